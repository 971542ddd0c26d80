package domain

import (
	"context"
	"time"
)

// PublishCause records what triggered a publish job.
type PublishCause string

const (
	// PublishCauseDeferred marks a deferred run firing at its scheduled time.
	PublishCauseDeferred PublishCause = "deferred"
	// PublishCauseManual marks a human-issued publish-now.
	PublishCauseManual PublishCause = "manual"
)

// PublishJob is the payload of a deferred run and of the publish queue.
type PublishJob struct {
	JobID       string       `json:"job_id"`
	PostID      int64        `json:"post_id"`
	RunHandle   string       `json:"run_handle,omitempty"`
	Priority    Priority     `json:"priority,omitempty"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	RequestedAt time.Time    `json:"requested_at"`
	Cause       PublishCause `json:"cause"`
}

// PublishQueue hands fired runs to the publisher worker.
type PublishQueue interface {
	Enqueue(ctx context.Context, job PublishJob) error
	Receive(ctx context.Context) (PublishJob, AckFunc, error)
}

// AckFunc confirms successful processing or requests redelivery.
type AckFunc func(success bool) error
