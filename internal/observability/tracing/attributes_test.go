package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributes(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("order.id", "1"),
		attribute.String("email", "a@b.c"),
		attribute.String("phone_number", "+100"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("order.id"), attrs[0].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	err := SafeError(errors.New("lock order: SELECT id FROM orders WHERE id = 1"))
	assert.Equal(t, "lock order:", err.Error())

	long := SafeError(errors.New(strings.Repeat("x", 400)))
	assert.Len(t, long.Error(), 256)
}
