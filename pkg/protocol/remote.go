// Package protocol defines the contracts between the flow graph engine and the remote platform.
package protocol

import (
	"context"
	"encoding/json"
)

// GraphQL submits mutations to the platform's GraphQL endpoint.
type GraphQL interface {
	// Mutate sends a complete GraphQL document and returns its "data" member.
	// GraphQL-level errors are returned as *flowerrors.RemoteError.
	Mutate(ctx context.Context, query string) (json.RawMessage, error)
}

// REST calls scripted REST endpoints.
type REST interface {
	// Post sends body as JSON to path (relative to the instance) and returns the "result" member.
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// GraphReader reads the serialized element graph of a flow.
type GraphReader interface {
	// GraphPayload returns the current version's payload, nil for a flow with no graph yet.
	GraphPayload(ctx context.Context, flowID string) (json.RawMessage, error)
}

// Transport is everything the engine needs from one platform instance.
type Transport interface {
	GraphQL
	REST
	RecordReader
	RecordWriter
}
