package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fieldsOf(t *testing.T, cfg Config) map[string]interface{} {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).With(baseFields(cfg)...).Info("hello")
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		return entries[0].ContextMap()
	}
	return nil
}

func TestBaseFields(t *testing.T) {
	fields := fieldsOf(t, Config{Environment: " production ", Version: "1.4.0"})
	assert.Equal(t, "subhub", fields["service"])
	assert.Equal(t, "production", fields["env"])
	assert.Equal(t, "1.4.0", fields["version"])
	assert.NotContains(t, fields, "billing_test_mode")
}

func TestBaseFields_TagsBillingTestMode(t *testing.T) {
	fields := fieldsOf(t, Config{ServiceName: "subhub-scheduler", BillingTestMode: true})
	assert.Equal(t, "subhub-scheduler", fields["service"])
	assert.Equal(t, true, fields["billing_test_mode"])
}
