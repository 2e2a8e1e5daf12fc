package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/eventbus"
	"github.com/f22labs/whatsapp-api/internal/platform/messagebroker"
)

// NATS subjects carrying lifecycle signals from other processes.
const (
	SubjectInstanceRemove       = "instance.remove"
	SubjectInstanceNoConnection = "instance.no_connection"
	relayQueueGroup             = "gateway-lifecycle"
)

type lifecycleSignal struct {
	Instance string `json:"instance"`
}

// NATSRelay forwards external lifecycle signals onto the in-process bus.
type NATSRelay struct {
	nats   messagebroker.NATSClient
	bus    eventbus.Bus
	logger *slog.Logger
}

func NewNATSRelay(nc messagebroker.NATSClient, bus eventbus.Bus, logger *slog.Logger) *NATSRelay {
	return &NATSRelay{nats: nc, bus: bus, logger: logger.With("component", "nats_lifecycle_relay")}
}

// Run subscribes both subjects and blocks until ctx is done.
func (r *NATSRelay) Run(ctx context.Context) error {
	routes := map[string]string{
		SubjectInstanceRemove:       eventbus.TypeRemoveInstance,
		SubjectInstanceNoConnection: eventbus.TypeNoConnection,
	}
	var subs []messagebroker.Subscription
	defer func() {
		for _, s := range subs {
			if err := s.Unsubscribe(); err != nil {
				r.logger.Warn("Unsubscribe failed", "error", err)
			}
		}
	}()

	for subject, eventType := range routes {
		eventType := eventType
		sub, err := r.nats.Subscribe(ctx, subject, relayQueueGroup, func(msg messagebroker.Message) {
			r.forward(ctx, eventType, msg)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	<-ctx.Done()
	return nil
}

func (r *NATSRelay) forward(ctx context.Context, eventType string, msg messagebroker.Message) {
	var sig lifecycleSignal
	if err := json.Unmarshal(msg.Data(), &sig); err != nil {
		r.logger.WarnContext(ctx, "Discarding malformed lifecycle signal", "subject", msg.Subject(), "error", err)
		return
	}
	if err := domain.ValidateName(sig.Instance); err != nil {
		r.logger.WarnContext(ctx, "Discarding lifecycle signal with invalid instance", "subject", msg.Subject(), "error", err)
		return
	}
	if n := r.bus.Publish(eventbus.Event{Type: eventType, Instance: sig.Instance}); n == 0 {
		r.logger.WarnContext(ctx, "Lifecycle signal had no receiver", "type", eventType, "instance", sig.Instance)
	}
}
