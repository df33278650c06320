package client

import "context"

// JobInfo describes the job a handler is executing.
type JobInfo struct {
	JobID    int64
	Category string
	Queue    string
	// CoalescedIDs lists every job settled by this execution, JobID first.
	CoalescedIDs []int64
	WorkerID     string
}

type jobInfoKey struct{}

func withJobInfo(ctx context.Context, info JobInfo) context.Context {
	return context.WithValue(ctx, jobInfoKey{}, info)
}

// JobInfoFromContext returns the JobInfo a Runner attaches to handler contexts.
func JobInfoFromContext(ctx context.Context) (JobInfo, bool) {
	info, ok := ctx.Value(jobInfoKey{}).(JobInfo)
	return info, ok
}
