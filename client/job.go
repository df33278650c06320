package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Job is the caller's handle on a published job. It settles exactly once, when
// some runner commits the job's terminal status.
type Job struct {
	id     int64
	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error
}

func newJob(id int64) *Job {
	return &Job{id: id, done: make(chan struct{})}
}

func (j *Job) ID() int64 {
	return j.id
}

// Done is closed once the job has settled.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job settles or ctx is done. A rejected job returns a
// *custom_errors.JobFailure.
func (j *Job) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) fulfill(result json.RawMessage) {
	j.once.Do(func() {
		j.result = result
		close(j.done)
	})
}

func (j *Job) reject(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

// Await waits for job and decodes its result into T.
func Await[T any](ctx context.Context, job *Job) (T, error) {
	var out T
	raw, err := job.Wait(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode result of job %d: %w", job.ID(), err)
	}
	return out, nil
}
