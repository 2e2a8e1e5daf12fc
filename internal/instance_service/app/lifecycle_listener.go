package app

import (
	"context"
	"log/slog"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/eventbus"
)

// LifecycleHandler reacts to lifecycle events. *Registry implements it.
type LifecycleHandler interface {
	HandleRemoveInstance(ctx context.Context, name string)
	HandleNoConnection(ctx context.Context, name string, from domain.Session)
}

// LifecycleListener drains lifecycle events from the bus into the registry,
// one at a time, so emitters never wait on teardown.
type LifecycleListener struct {
	bus     eventbus.Bus
	handler LifecycleHandler
	buffer  int
	logger  *slog.Logger
	ready   chan struct{}
}

func NewLifecycleListener(bus eventbus.Bus, handler LifecycleHandler, buffer int, logger *slog.Logger) *LifecycleListener {
	return &LifecycleListener{
		bus:     bus,
		handler: handler,
		buffer:  buffer,
		logger:  logger.With("component", "lifecycle_listener"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is subscribed.
func (l *LifecycleListener) Ready() <-chan struct{} { return l.ready }

// Run consumes events until ctx is done.
func (l *LifecycleListener) Run(ctx context.Context) error {
	events, unsubscribe := l.bus.Subscribe(l.buffer, eventbus.TypeRemoveInstance, eventbus.TypeNoConnection)
	defer unsubscribe()
	close(l.ready)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Lifecycle listener stopping", "reason", ctx.Err())
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			l.dispatch(ctx, e)
		}
	}
}

func (l *LifecycleListener) dispatch(ctx context.Context, e eventbus.Event) {
	l.logger.InfoContext(ctx, "Lifecycle event received", "type", e.Type, "instance", e.Instance)
	switch e.Type {
	case eventbus.TypeRemoveInstance:
		l.handler.HandleRemoveInstance(ctx, e.Instance)
	case eventbus.TypeNoConnection:
		// External signals carry no source and apply to whatever is registered.
		from, _ := e.Source.(domain.Session)
		l.handler.HandleNoConnection(ctx, e.Instance, from)
	default:
		l.logger.WarnContext(ctx, "Unhandled lifecycle event", "type", e.Type)
	}
}
