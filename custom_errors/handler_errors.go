package custom_errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobTimeoutError rejects a job whose handler did not return before its
// deadline.
type JobTimeoutError struct {
	Category string
	Timeout  time.Duration
}

func (e *JobTimeoutError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"category": e.Category,
		"timeout":  e.Timeout.String(),
	})
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job '%s' timed out after %s", e.Category, e.Timeout)
}

// HandlerPanicError rejects a job whose handler panicked.
type HandlerPanicError struct {
	Category string `json:"category"`
	Value    string `json:"value"`
	Stack    string `json:"stack,omitempty"`
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler '%s' panicked: %s", e.Category, e.Value)
}
