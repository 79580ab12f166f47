package jobqueue

import (
	"context"
	"time"

	"encore.dev/pubsub"

	netpubsub "encore.app/pkg/pubsub"
)

// DeadLetterEvent is published when a job exhausts its retry budget.
type DeadLetterEvent struct {
	JobID     string    `json:"job_id"`
	Band      Band      `json:"band"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	Timestamp time.Time `json:"timestamp"`
}

var DeadLetterTopic = pubsub.NewTopic[*DeadLetterEvent](netpubsub.TopicJobQueueDeadLetter, pubsub.TopicConfig{
	DeliveryGuarantee: pubsub.AtLeastOnce,
})

func publishDeadLetter(ctx context.Context, job *Job) {
	DeadLetterTopic.Publish(ctx, &DeadLetterEvent{
		JobID:     job.ID,
		Band:      job.Band,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		Timestamp: time.Now(),
	})
}
