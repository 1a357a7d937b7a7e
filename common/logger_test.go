package common

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() (*logrus.Logger, *bytes.Buffer) {
	logger := logrus.New()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, buf
}

func TestContextLoggerWithFields(t *testing.T) {
	logger, buf := newTestLogger()
	cl := NewContextLogger(logger, map[string]interface{}{"service": "indexer-agent"})

	cl.WithField("network", "eip155:1").Info("started")
	assert.Contains(t, buf.String(), `"network":"eip155:1"`)
	assert.Contains(t, buf.String(), `"service":"indexer-agent"`)
}

func TestContextLoggerWithError(t *testing.T) {
	logger, buf := newTestLogger()
	cl := NewContextLogger(logger, nil)

	cl.WithError(errors.New("boom")).Error("submit failed")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestContextLoggerWithContext(t *testing.T) {
	logger, buf := newTestLogger()
	cl := NewContextLogger(logger, nil)

	ctx := context.Background()
	ctx = WithNetworkContext(ctx, "eip155:1")
	ctx = WithPassContext(ctx, "pass-1")
	ctx = WithActionContext(ctx, "action-1")

	cl.WithContext(ctx).Info("reconciled")

	out := buf.String()
	assert.Contains(t, out, `"network":"eip155:1"`)
	assert.Contains(t, out, `"pass_id":"pass-1"`)
	assert.Contains(t, out, `"action_id":"action-1"`)
}

func TestContextLoggerWithContextIgnoresUnsetKeys(t *testing.T) {
	logger, buf := newTestLogger()
	cl := NewContextLogger(logger, nil)

	cl.WithContext(context.Background()).Info("no identifiers")

	out := buf.String()
	assert.NotContains(t, out, "network")
	assert.NotContains(t, out, "pass_id")
	assert.NotContains(t, out, "action_id")
}

func TestServiceLogger(t *testing.T) {
	cl := ServiceLogger("indexer-agent", "v1.2.3")
	assert.Equal(t, "indexer-agent", cl.fields["service"])
	assert.Equal(t, "v1.2.3", cl.fields["version"])
	assert.NotEmpty(t, cl.fields["build_version"])
}

func TestStructuredLog(t *testing.T) {
	logger, buf := newTestLogger()

	NewStructuredLog(logger).
		WithField("network", "eip155:1").
		WithError(errors.New("boom")).
		Level(LogLevelWarn).
		Log("rule evaluation failed")

	out := buf.String()
	assert.Contains(t, out, `"network":"eip155:1"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"warning"`)
}

func TestLogOperation(t *testing.T) {
	logger, _ := newTestLogger()
	cl := NewContextLogger(logger, nil)

	err := LogOperation(cl, "reconcile", func() error { return nil })
	assert.NoError(t, err)

	failing := errors.New("reconcile failed")
	err = LogOperation(cl, "reconcile", func() error { return failing })
	assert.Equal(t, failing, err)
}
