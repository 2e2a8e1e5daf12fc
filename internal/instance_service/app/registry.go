package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/clock"
	"github.com/f22labs/whatsapp-api/internal/platform/eventbus"
	"github.com/f22labs/whatsapp-api/internal/platform/retry"
)

// RemovalNotifier tells an external system that an instance was removed.
type RemovalNotifier interface {
	NotifyRemoved(ctx context.Context, instanceName string) error
}

// RegistryConfig holds the lifecycle knobs of the registry.
type RegistryConfig struct {
	// IdleEviction arms a one-shot eviction per instance and enables
	// removal on lost connections. Zero disables both.
	IdleEviction time.Duration
	StatusRetry  retry.Policy
}

// Registry owns the in-memory instance handles. The mutex guards only map
// access; session and storage calls happen outside it.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*domain.Instance

	store    domain.ArtifactStore
	factory  domain.SessionFactory
	notifier RemovalNotifier
	bus      eventbus.Bus
	clock    clock.Clock
	cfg      RegistryConfig
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. notifier may be nil.
func NewRegistry(
	store domain.ArtifactStore,
	factory domain.SessionFactory,
	notifier RemovalNotifier,
	bus eventbus.Bus,
	clk clock.Clock,
	cfg RegistryConfig,
	logger *slog.Logger,
) *Registry {
	if cfg.StatusRetry.Retryable == nil {
		cfg.StatusRetry.Retryable = func(err error) bool { return errors.Is(err, domain.ErrNotConnected) }
	}
	return &Registry{
		instances: make(map[string]*domain.Instance),
		store:     store,
		factory:   factory,
		notifier:  notifier,
		bus:       bus,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With("component", "instance_registry"),
	}
}

func (r *Registry) lookup(name string) (*domain.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// insert adds inst unless the name is taken.
func (r *Registry) insert(inst *domain.Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[inst.Name]; exists {
		return false
	}
	r.instances[inst.Name] = inst
	instancesRegistered.Set(float64(len(r.instances)))
	return true
}

// evict removes name, but only if it still maps to expected (nil matches anything).
func (r *Registry) evict(name string, expected *domain.Instance) (*domain.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok || (expected != nil && inst != expected) {
		return nil, false
	}
	delete(r.instances, name)
	instancesRegistered.Set(float64(len(r.instances)))
	return inst, true
}

// Load registers a session for every instance with persisted artifacts.
// Enumeration failure aborts the call; a failing instance is logged and skipped.
func (r *Registry) Load(ctx context.Context) (int, error) {
	names, err := r.store.ListInstanceNames(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to enumerate persisted instances", "backend", r.store.Kind(), "error", err)
		return 0, fmt.Errorf("load instances: %w", err)
	}

	loaded := 0
	for _, name := range names {
		session, err := r.factory.NewSession(name)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to construct session", "instance", name, "error", err)
			continue
		}
		inst := &domain.Instance{Name: name, Session: session, CreatedAt: r.clock.Now()}
		if !r.insert(inst) {
			r.logger.DebugContext(ctx, "Instance already registered, skipping", "instance", name)
			continue
		}
		if err := session.Connect(ctx); err != nil {
			r.logger.WarnContext(ctx, "Instance connect failed during load", "instance", name, "error", err)
		}
		r.ScheduleIdleEviction(name, r.cfg.IdleEviction)
		loaded++
	}
	r.logger.InfoContext(ctx, "Instances loaded", "count", loaded, "backend", r.store.Kind())
	return loaded, nil
}

// StatusOf waits, with bounded backoff, for the instance to be open and
// reports its owner and profile.
func (r *Registry) StatusOf(ctx context.Context, name string) (domain.InstanceStatus, error) {
	inst, ok := r.lookup(name)
	if !ok {
		statusChecks.WithLabelValues("not_found").Inc()
		return domain.InstanceStatus{}, fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}

	err := retry.Do(ctx, r.cfg.StatusRetry, func(context.Context) error {
		if inst.State() != domain.StateOpen {
			return domain.ErrNotConnected
		}
		return nil
	})
	if err != nil {
		statusChecks.WithLabelValues("not_connected").Inc()
		if errors.Is(err, domain.ErrNotConnected) {
			return domain.InstanceStatus{}, fmt.Errorf("%w: %q", domain.ErrNotConnected, name)
		}
		return domain.InstanceStatus{}, err
	}

	status := domain.InstanceStatus{
		InstanceName: name,
		Owner:        inst.Session.OwnerJID(),
		ProfileName:  domain.ProfileNameFallback,
	}
	if profile, err := inst.Session.ProfileName(ctx); err == nil && profile != "" {
		status.ProfileName = profile
	} else if err != nil {
		r.logger.DebugContext(ctx, "Profile name unavailable", "instance", name, "error", err)
	}
	if url, err := inst.Session.ProfilePictureURL(ctx); err == nil {
		status.ProfilePictureURL = url
	}
	statusChecks.WithLabelValues("ok").Inc()
	return status, nil
}

// ScheduleIdleEviction arms a one-shot timer that drops the handle if the
// instance is not open when it fires. A non-positive idle disables it.
func (r *Registry) ScheduleIdleEviction(name string, idle time.Duration) {
	if idle <= 0 {
		return
	}
	r.clock.AfterFunc(idle, func() { r.evictIfIdle(name) })
}

func (r *Registry) evictIfIdle(name string) {
	inst, ok := r.lookup(name)
	if !ok || inst.State() == domain.StateOpen {
		return
	}
	if _, removed := r.evict(name, inst); !removed {
		return
	}
	instanceEvictions.WithLabelValues("idle").Inc()
	r.logger.Info("Idle instance evicted", "instance", name, "state", inst.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := inst.Session.Disconnect(ctx); err != nil {
		r.logger.Warn("Disconnect after idle eviction failed", "instance", name, "error", err)
	}
}

// HandleRemoveInstance evicts the handle, purges its artifacts and notifies
// the external system. Notification failures are logged only.
func (r *Registry) HandleRemoveInstance(ctx context.Context, name string) {
	r.teardown(ctx, name, "removed", nil)

	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyRemoved(ctx, name); err != nil {
		r.logger.WarnContext(ctx, "Removal notification failed", "instance", name, "error", err)
	}
}

// HandleNoConnection tears the instance down only when idle eviction is
// configured. A non-nil from limits it to the handle owning that session so a
// late signal from a replaced session cannot remove its successor.
func (r *Registry) HandleNoConnection(ctx context.Context, name string, from domain.Session) {
	if r.cfg.IdleEviction <= 0 {
		r.logger.DebugContext(ctx, "Lost connection ignored, auto-delete disabled", "instance", name)
		return
	}
	var expected *domain.Instance
	if from != nil {
		if inst, ok := r.lookup(name); ok {
			if inst.Session != from {
				r.logger.DebugContext(ctx, "Lost connection from a replaced session ignored", "instance", name)
				return
			}
			expected = inst
		}
	}
	if !r.teardown(ctx, name, "no_connection", expected) {
		return
	}
	r.logger.WarnContext(ctx, "Instance removed after lost connection", "instance", name)
}

// teardown evicts name (only if it still maps to expected, when given), then
// purges its artifacts. It reports false when a different handle took the name.
func (r *Registry) teardown(ctx context.Context, name, reason string, expected *domain.Instance) bool {
	inst, evicted := r.evict(name, expected)
	if evicted {
		instanceEvictions.WithLabelValues(reason).Inc()
		if err := inst.Session.Disconnect(ctx); err != nil {
			r.logger.WarnContext(ctx, "Session disconnect failed", "instance", name, "error", err)
		}
	} else if expected != nil {
		return false
	}
	if err := r.store.PurgeInstance(ctx, name); err != nil {
		r.logger.ErrorContext(ctx, "Failed to purge instance artifacts", "instance", name, "backend", r.store.Kind(), "error", err)
		return true
	}
	r.logger.InfoContext(ctx, "Instance removed", "instance", name, "reason", reason)
	return true
}

type identityRecord struct {
	Instance  string    `json:"instance"`
	CreatedAt time.Time `json:"created_at"`
}

// Provision creates, connects and registers an instance. A name that still
// has persisted artifacts (e.g. after idle eviction) is re-attached as is; the
// identity marker is only written when none exists.
func (r *Registry) Provision(ctx context.Context, name string) (domain.InstanceSummary, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.InstanceSummary{}, err
	}
	if _, exists := r.lookup(name); exists {
		return domain.InstanceSummary{}, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, name)
	}

	now := r.clock.Now()
	reattached, err := r.ensureIdentity(ctx, name, now)
	if err != nil {
		return domain.InstanceSummary{}, err
	}

	session, err := r.factory.NewSession(name)
	if err != nil {
		return domain.InstanceSummary{}, fmt.Errorf("create session %q: %w", name, err)
	}
	inst := &domain.Instance{Name: name, Session: session, CreatedAt: now}
	if !r.insert(inst) {
		return domain.InstanceSummary{}, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, name)
	}
	if err := session.Connect(ctx); err != nil {
		r.logger.WarnContext(ctx, "Instance connect failed after provisioning", "instance", name, "error", err)
	}
	r.ScheduleIdleEviction(name, r.cfg.IdleEviction)

	r.logger.InfoContext(ctx, "Instance provisioned", "instance", name, "reattached", reattached)
	return domain.InstanceSummary{Name: name, State: inst.State()}, nil
}

// ensureIdentity writes the identity marker unless one is already stored.
// It reports whether an existing marker was found.
func (r *Registry) ensureIdentity(ctx context.Context, name string, now time.Time) (bool, error) {
	_, err := r.store.ReadArtifact(ctx, name, domain.IdentityArtifact)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, domain.ErrArtifactNotFound):
		return false, fmt.Errorf("read identity %q: %w", name, err)
	}

	identity, err := json.Marshal(identityRecord{Instance: name, CreatedAt: now.UTC()})
	if err != nil {
		return false, fmt.Errorf("encode identity %q: %w", name, err)
	}
	if err := r.store.WriteArtifact(ctx, name, domain.IdentityArtifact, identity); err != nil {
		return false, fmt.Errorf("persist identity %q: %w", name, err)
	}
	return false, nil
}

// RequestRemoval logs the session out and emits a remove event. When no
// listener takes the event the removal runs inline.
func (r *Registry) RequestRemoval(ctx context.Context, name string) error {
	inst, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}
	if err := inst.Session.Logout(ctx); err != nil {
		r.logger.WarnContext(ctx, "Logout before removal failed", "instance", name, "error", err)
	}
	if r.bus != nil && r.bus.Publish(eventbus.Event{Type: eventbus.TypeRemoveInstance, Instance: name}) > 0 {
		return nil
	}
	r.HandleRemoveInstance(ctx, name)
	return nil
}

// Session returns the live session for name.
func (r *Registry) Session(name string) (domain.Session, error) {
	inst, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}
	return inst.Session, nil
}

// List returns a snapshot of registered instances sorted by name.
func (r *Registry) List() []domain.InstanceSummary {
	r.mu.RLock()
	snapshot := make([]*domain.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		snapshot = append(snapshot, inst)
	}
	r.mu.RUnlock()

	out := make([]domain.InstanceSummary, 0, len(snapshot))
	for _, inst := range snapshot {
		out = append(out, domain.InstanceSummary{Name: inst.Name, State: inst.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close disconnects every session. Used at shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	all := r.instances
	r.instances = make(map[string]*domain.Instance)
	instancesRegistered.Set(0)
	r.mu.Unlock()

	for name, inst := range all {
		if err := inst.Session.Disconnect(ctx); err != nil {
			r.logger.WarnContext(ctx, "Disconnect on shutdown failed", "instance", name, "error", err)
		}
	}
}
