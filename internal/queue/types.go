// Package queue provides an in-memory priority job queue with interval
// dedupe, plus the cron scheduler and event listeners that feed it.
package queue

import (
	"context"
	"time"
)

// JobType identifies what a job does
type JobType string

const (
	// JobAdvisorSweep evaluates recommendation triggers
	JobAdvisorSweep JobType = "advisor_sweep"
	// JobExpirySweep moves overdue recommendations to expired
	JobExpirySweep JobType = "expiry_sweep"
	// JobReconcilePositions verifies positions against the ledger
	JobReconcilePositions JobType = "reconcile_positions"
	// JobSnapshotGC prunes old market snapshots
	JobSnapshotGC JobType = "snapshot_gc"
	// JobRecommendationGC prunes old terminal recommendations
	JobRecommendationGC JobType = "recommendation_gc"
)

// Priority orders jobs in the queue
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Job is one unit of background work. Key scopes the dedupe window: two
// jobs of the same type with different keys are independent.
type Job struct {
	Type       JobType
	Key        string
	Priority   Priority
	Payload    map[string]string
	EnqueuedAt time.Time
}

// DedupeKey identifies the job for interval deduplication
func (j Job) DedupeKey() string {
	return string(j.Type) + ":" + j.Key
}

// Handler executes one job
type Handler func(ctx context.Context, job Job) error
