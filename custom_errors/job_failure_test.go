package custom_errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaError struct {
	Realm string `json:"realm"`
	Limit int    `json:"limit"`
}

func (e *quotaError) Error() string { return fmt.Sprintf("quota exceeded for %s", e.Realm) }

type panickyError struct{}

func (panickyError) Error() string { panic("boom") }

func decode(t *testing.T, doc json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(doc, &out))
	return out
}

func TestSerializeError_PlainError(t *testing.T) {
	doc := decode(t, SerializeError(errors.New("disk full")))

	assert.Equal(t, "disk full", doc["message"])
	assert.Equal(t, "*errors.errorString", doc["name"])
	assert.NotContains(t, doc, "causes")
}

func TestSerializeError_ExportedFields(t *testing.T) {
	doc := decode(t, SerializeError(&quotaError{Realm: "http://realm/", Limit: 3}))

	assert.Equal(t, "quota exceeded for http://realm/", doc["message"])
	assert.Equal(t, "http://realm/", doc["realm"])
	assert.Equal(t, float64(3), doc["limit"])
}

func TestSerializeError_WrappedChain(t *testing.T) {
	inner := errors.New("connection reset")
	doc := decode(t, SerializeError(fmt.Errorf("index realm: %w", inner)))

	assert.Equal(t, "index realm: connection reset", doc["message"])
	assert.Equal(t, []any{"connection reset"}, doc["causes"])
}

func TestSerializeError_Fallback(t *testing.T) {
	doc := decode(t, SerializeError(panickyError{}))

	assert.Equal(t, true, doc["failedToSerializeError"])
	assert.Equal(t, "", doc["string"])
}

func TestJobFailure_Message(t *testing.T) {
	failure := &JobFailure{JobID: 7, Document: SerializeError(errors.New("bad args"))}

	assert.Equal(t, "bad args", failure.Message())
	assert.Equal(t, "job 7 rejected: bad args", failure.Error())
}

func TestJobFailure_FallbackString(t *testing.T) {
	failure := &JobFailure{JobID: 8, Document: json.RawMessage(`{"failedToSerializeError":true,"string":"odd"}`)}
	assert.Equal(t, "odd", failure.Message())

	opaque := &JobFailure{JobID: 9, Document: json.RawMessage(`42`)}
	assert.Equal(t, "job 9 rejected: 42", opaque.Error())
}

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	first := errors.New("poll interval must be positive")
	v.Add(first)
	v.Add(errors.New("instance is required"))

	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "poll interval must be positive")
	assert.Contains(t, v.Error(), "instance is required")
	assert.ErrorIs(t, v, first)
}

func TestSerializeError_HandlerErrors(t *testing.T) {
	doc := decode(t, SerializeError(&JobTimeoutError{Category: "echo", Timeout: 2 * time.Second}))
	assert.Equal(t, "job 'echo' timed out after 2s", doc["message"])
	assert.Equal(t, "2s", doc["timeout"])
	assert.Equal(t, "*custom_errors.JobTimeoutError", doc["name"])

	doc = decode(t, SerializeError(&HandlerPanicError{Category: "echo", Value: "nil map"}))
	assert.Equal(t, "handler 'echo' panicked: nil map", doc["message"])
	assert.Equal(t, "nil map", doc["value"])
}
