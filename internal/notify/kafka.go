package notify

import "context"

// Publisher is satisfied by ingest.KafkaProducer.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// KafkaNotifier hands notifications to a delivery worker through a topic. The Kafka writer
// retries internally.
type KafkaNotifier struct {
	Publisher Publisher
}

func (k *KafkaNotifier) Notify(ctx context.Context, to Party, tmpl Template, vars map[string]string) error {
	return k.Publisher.Publish(ctx, string(to.Kind)+":"+to.ID, Message{To: to, Template: tmpl, Vars: vars})
}
