package types

import (
	"encoding/json"

	"github.com/RezaEskandarii/pgqueue/internal/state"
)

// JobResult is the terminal state of a job as read back by the notification relay.
type JobResult struct {
	JobID  int64
	Status state.JobStatus
	Result json.RawMessage
}
