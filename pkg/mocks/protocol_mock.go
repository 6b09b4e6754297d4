package mocks

import (
	"context"
	"encoding/json"

	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockGraphQL is a mock implementation of protocol.GraphQL interface.
type MockGraphQL struct {
	mock.Mock
}

var _ protocol.GraphQL = (*MockGraphQL)(nil)

func (m *MockGraphQL) Mutate(ctx context.Context, query string) (json.RawMessage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

// MockGraphReader is a mock implementation of protocol.GraphReader interface.
type MockGraphReader struct {
	mock.Mock
}

var _ protocol.GraphReader = (*MockGraphReader)(nil)

func (m *MockGraphReader) GraphPayload(ctx context.Context, flowID string) (json.RawMessage, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

// MockRecordReader is a mock implementation of protocol.RecordReader interface.
type MockRecordReader struct {
	mock.Mock
}

var _ protocol.RecordReader = (*MockRecordReader)(nil)

func (m *MockRecordReader) Query(ctx context.Context, table string, q protocol.RecordQuery) ([]protocol.Record, error) {
	args := m.Called(ctx, table, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]protocol.Record), args.Error(1)
}

func (m *MockRecordReader) Get(ctx context.Context, table, sysID string) (protocol.Record, error) {
	args := m.Called(ctx, table, sysID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(protocol.Record), args.Error(1)
}
