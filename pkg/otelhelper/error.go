package otelhelper

import (
	"errors"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed and tags it with the flowerrors kind of err.
// Lock conflicts also carry the flow and the user holding it; remote errors carry their status.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String(ErrorKindKey, flowerrors.Kind(err)))

	var conflict *flowerrors.LockConflictError
	if errors.As(err, &conflict) {
		attrs = append(attrs,
			attribute.String(FlowIDKey, conflict.FlowID),
			attribute.String(LockHolderKey, conflict.Holder),
		)
	}

	var remote *flowerrors.RemoteError
	if errors.As(err, &remote) && remote.Status != 0 {
		attrs = append(attrs, attribute.Int(HTTPStatusKey, remote.Status))
	}

	var partial *flowerrors.PartialWriteError
	if errors.As(err, &partial) {
		attrs = append(attrs, attribute.String(ElementUIIDKey, partial.UIID))
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
}
