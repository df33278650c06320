package constants

import "time"

// Advisory lock keys. Session locks use MigrationLock; queue claims take a
// transaction-scoped lock in the QueueLockNamespace keyed by hashtext(queue).
const (
	MigrationLock = iota + 7301
	QueueLockNamespace
)

const (
	// NewJobsChannel carries a wake-up for runners whenever a job is inserted.
	NewJobsChannel = "jobs"
	// JobsFinishedChannel carries a wake-up for publishers whenever a batch commits.
	JobsFinishedChannel = "jobs_finished"
)

const (
	DefaultQueueName    = "default"
	DefaultPollInterval = 10 * time.Second
	DefaultJobTimeout   = 10 * time.Minute
	DefaultLeaseGrace   = 30 * time.Second
)
