package monitoring

import (
	"context"
	"time"

	"encore.dev/pubsub"
)

// AlertEvent is the wire form of an Alert broadcast over Pub/Sub, letting
// notification channels and the admin dashboard react without polling
// GetActiveAlerts.
type AlertEvent struct {
	ID           string    `json:"id"`
	Rule         string    `json:"rule"`
	Type         AlertType `json:"type"`
	Severity     string    `json:"severity"`
	Metric       string    `json:"metric"`
	CurrentValue float64   `json:"current_value"`
	Threshold    float64   `json:"threshold"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

var AlertRaisedTopic = pubsub.NewTopic[*AlertEvent](
	"monitoring-alert-raised",
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

var AlertResolvedTopic = pubsub.NewTopic[*AlertEvent](
	"monitoring-alert-resolved",
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

func publishAlertRaised(alert *Alert) {
	_, _ = AlertRaisedTopic.Publish(context.Background(), &AlertEvent{
		ID: alert.ID, Rule: alert.Rule, Type: alert.Type, Severity: alert.Severity,
		Metric: alert.Metric, CurrentValue: alert.CurrentValue, Threshold: alert.Threshold,
		Message: alert.Message, Timestamp: alert.TriggeredAt,
	})
}

func publishAlertResolved(alert *Alert) {
	_, _ = AlertResolvedTopic.Publish(context.Background(), &AlertEvent{
		ID: alert.ID, Rule: alert.Rule, Type: alert.Type, Severity: alert.Severity,
		Metric: alert.Metric, CurrentValue: alert.CurrentValue, Threshold: alert.Threshold,
		Message: alert.Message, Timestamp: *alert.ResolvedAt,
	})
}
