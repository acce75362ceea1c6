package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := NewLogger()
	l.SetOutput(buf)
	return l, buf
}

func TestLogger_LogErrorIncludesAppErrorContext(t *testing.T) {
	l, buf := newBufferedLogger()

	l.LogError(NewRoutingError("12345"), "drop", logrus.Fields{"component": "webhook"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "ROUTING", entry["error_code"])
	assert.Equal(t, "12345", entry["routing_key"])
	assert.Equal(t, "webhook", entry["component"])
}

func TestLogger_LogRetryableErrorLevel(t *testing.T) {
	l, buf := newBufferedLogger()

	l.LogRetryableError(NewAPIError("/m", 503, stderrors.New("down")), "send")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])

	buf.Reset()
	l.LogRetryableError(stderrors.New("fatal"), "send")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
}
