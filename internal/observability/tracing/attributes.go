package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// blockedAttributeKeys never leave the process as span attributes.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"email":         {},
	"phone_number":  {},
	"contact_name":  {},
	"authorization": {},
}

// ExtractContext joins an inbound trace propagated through carrier headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes carrying personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces an error to its message, truncated, without wrapping chains that may embed SQL.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.Index(msg, "SELECT"); idx >= 0 {
		msg = strings.TrimSpace(msg[:idx])
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
