package failover

import (
	"context"
	"time"

	"encore.dev/pubsub"

	netpubsub "encore.app/pkg/pubsub"
)

// FailoverEvent mirrors one Event published for cross-service consumption
// (e.g. the device pool evicting stale connections, or an alerting rule).
type FailoverEvent struct {
	DeviceID  string    `json:"device_id"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Target    string    `json:"target,omitempty"`
	Manual    bool      `json:"manual"`
	Timestamp time.Time `json:"timestamp"`
}

var FailoverStartedTopic = pubsub.NewTopic[*FailoverEvent](netpubsub.TopicDevicepoolFailoverStarted, pubsub.TopicConfig{
	DeliveryGuarantee: pubsub.AtLeastOnce,
})

var FailoverCompletedTopic = pubsub.NewTopic[*FailoverEvent](netpubsub.TopicDevicepoolFailoverCompleted, pubsub.TopicConfig{
	DeliveryGuarantee: pubsub.AtLeastOnce,
})

func publishFailoverStarted(e Event) {
	FailoverStartedTopic.Publish(context.Background(), &FailoverEvent{
		DeviceID: e.DeviceID, FromState: e.FromState, ToState: StateFailingOver, Manual: e.Manual, Timestamp: e.Timestamp,
	})
}

func publishFailoverCompleted(e Event) {
	FailoverCompletedTopic.Publish(context.Background(), &FailoverEvent{
		DeviceID: e.DeviceID, FromState: e.FromState, ToState: e.ToState, Target: e.Target, Manual: e.Manual, Timestamp: e.Timestamp,
	})
}
