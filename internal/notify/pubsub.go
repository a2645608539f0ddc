package notify

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// topicPublisher is the slice of *pubsub.Topic the notifier needs.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubNotifier publishes milestone events to a Pub/Sub topic as JSON.
// Delivery is best effort; failures are logged and never surfaced to
// the scheduling path.
type PubSubNotifier struct {
	topic  topicPublisher
	logger *zap.Logger
}

// NewPubSubNotifier wires a notifier to an existing topic handle.
func NewPubSubNotifier(topic *pubsub.Topic, logger *zap.Logger) *PubSubNotifier {
	return &PubSubNotifier{topic: topic, logger: logger}
}

type event struct {
	Kind       string `json:"kind"`
	AreaCode   string `json:"area_code"`
	SearchText string `json:"search_text,omitempty"`
}

// AreaFinished announces that every activity in an area is done.
func (n *PubSubNotifier) AreaFinished(ctx context.Context, areaCode string) {
	n.publish(ctx, event{Kind: "area_finished", AreaCode: areaCode})
}

// DeepTaskStillCapped reports a street-level task that still hit the
// result cap and cannot be refined further.
func (n *PubSubNotifier) DeepTaskStillCapped(ctx context.Context, areaCode, searchText string) {
	n.publish(ctx, event{
		Kind:       "deep_task_capped",
		AreaCode:   areaCode,
		SearchText: searchText,
	})
}

func (n *PubSubNotifier) publish(ctx context.Context, ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal notification", zap.Error(err))
		return
	}

	result := n.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		n.logger.Error("publish notification",
			zap.String("kind", ev.Kind),
			zap.String("area_code", ev.AreaCode),
			zap.Error(err))
		return
	}

	n.logger.Debug("published notification",
		zap.String("kind", ev.Kind),
		zap.String("area_code", ev.AreaCode),
		zap.String("message_id", id))
}
