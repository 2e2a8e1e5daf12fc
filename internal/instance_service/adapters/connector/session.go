// Package connector drives sessions hosted by an external connector process over HTTP.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/eventbus"
)

// Config for the connector bridge.
type Config struct {
	BaseURL      string
	Token        string
	SendInterval time.Duration // minimum spacing between sends per session; zero disables pacing
	PollInterval time.Duration // state poll period; zero disables polling
	HTTPClient   *http.Client
}

// Factory creates connector-backed sessions.
type Factory struct {
	cfg    Config
	bus    eventbus.Bus
	store  domain.ArtifactStore
	logger *slog.Logger
}

var _ domain.SessionFactory = (*Factory)(nil)

func NewFactory(cfg Config, bus eventbus.Bus, store domain.ArtifactStore, logger *slog.Logger) *Factory {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Factory{cfg: cfg, bus: bus, store: store, logger: logger.With("component", "connector")}
}

func (f *Factory) NewSession(name string) (domain.Session, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if f.cfg.SendInterval > 0 {
		limit = rate.Every(f.cfg.SendInterval)
	}
	return &Session{
		name:    name,
		cfg:     f.cfg,
		bus:     f.bus,
		store:   f.store,
		limiter: rate.NewLimiter(limit, 1),
		state:   domain.StateClosed,
		logger:  f.logger.With("instance", name),
	}, nil
}

// Session is a domain.Session backed by the connector API.
type Session struct {
	name    string
	cfg     Config
	bus     eventbus.Bus
	store   domain.ArtifactStore
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.RWMutex
	state      domain.ConnectionState
	owner      string
	stopPoll   context.CancelFunc
	pollDoneCh chan struct{}
}

var _ domain.Session = (*Session)(nil)

type stateResponse struct {
	State     domain.ConnectionState `json:"state"`
	Owner     string                 `json:"owner,omitempty"`
	LoggedOut bool                   `json:"logged_out,omitempty"`
	Creds     json.RawMessage        `json:"creds,omitempty"`
}

type connectRequest struct {
	Creds json.RawMessage `json:"creds,omitempty"`
}

type profileResponse struct {
	Name       string `json:"name"`
	PictureURL string `json:"picture_url"`
}

type sendResponse struct {
	AckID string `json:"ack_id"`
}

type checkResponse struct {
	Exists bool `json:"exists"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Session) Name() string { return s.name }

func (s *Session) State() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) OwnerJID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// setState records the new state and returns the previous one.
func (s *Session) setState(next domain.ConnectionState, owner string) domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = next
	if owner != "" {
		s.owner = owner
	}
	return prev
}

// Connect hands stored credentials to the connector and starts state polling.
func (s *Session) Connect(ctx context.Context) error {
	var req connectRequest
	creds, err := s.store.ReadArtifact(ctx, s.name, domain.CredentialsArtifact)
	switch {
	case err == nil && json.Valid(creds):
		req.Creds = creds
	case err != nil && !errors.Is(err, domain.ErrArtifactNotFound):
		s.logger.WarnContext(ctx, "Could not read stored credentials", "error", err)
	}

	s.setState(domain.StateConnecting, "")
	var resp stateResponse
	if err := s.do(ctx, http.MethodPost, "/connect", req, &resp); err != nil {
		s.setState(domain.StateClosed, "")
		return fmt.Errorf("connect %q: %w", s.name, err)
	}
	s.apply(ctx, resp)
	s.startPolling()
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.stopPolling()
	s.setState(domain.StateClosed, "")
	if err := s.do(ctx, http.MethodPost, "/disconnect", nil, nil); err != nil {
		return fmt.Errorf("disconnect %q: %w", s.name, err)
	}
	return nil
}

func (s *Session) Logout(ctx context.Context) error {
	s.stopPolling()
	s.setState(domain.StateClosed, "")
	if err := s.do(ctx, http.MethodPost, "/logout", nil, nil); err != nil {
		return fmt.Errorf("logout %q: %w", s.name, err)
	}
	return nil
}

func (s *Session) ProfileName(ctx context.Context) (string, error) {
	p, err := s.profile(ctx)
	return p.Name, err
}

func (s *Session) ProfilePictureURL(ctx context.Context) (string, error) {
	p, err := s.profile(ctx)
	return p.PictureURL, err
}

func (s *Session) profile(ctx context.Context) (profileResponse, error) {
	var p profileResponse
	if err := s.do(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return profileResponse{}, err
	}
	return p, nil
}

func (s *Session) SendText(ctx context.Context, phone, text string) (domain.SendResult, error) {
	body := map[string]string{"phone": phone, "text": text}
	return s.send(ctx, "/messages/text", body)
}

func (s *Session) SendMedia(ctx context.Context, phone string, media domain.MediaMessage) (domain.SendResult, error) {
	body := struct {
		Phone string `json:"phone"`
		domain.MediaMessage
	}{Phone: phone, MediaMessage: media}
	return s.send(ctx, "/messages/media", body)
}

func (s *Session) send(ctx context.Context, path string, body any) (domain.SendResult, error) {
	if s.State() != domain.StateOpen {
		return domain.SendResult{}, fmt.Errorf("%w: %q", domain.ErrNotConnected, s.name)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.SendResult{}, fmt.Errorf("send pacing: %w", err)
	}
	var resp sendResponse
	if err := s.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return domain.SendResult{}, err
	}
	return domain.SendResult{AckID: resp.AckID}, nil
}

func (s *Session) CheckReachable(ctx context.Context, phone string) (bool, error) {
	var resp checkResponse
	if err := s.do(ctx, http.MethodPost, "/numbers/check", map[string]string{"phone": phone}, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// apply folds a connector state report into the session and emits lifecycle events.
func (s *Session) apply(ctx context.Context, resp stateResponse) {
	if len(resp.Creds) > 0 {
		if err := s.store.WriteArtifact(ctx, s.name, domain.CredentialsArtifact, resp.Creds); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist credentials", "error", err)
		}
	}
	if resp.LoggedOut {
		s.stopPollingAsync()
		s.setState(domain.StateClosed, "")
		s.emit(eventbus.TypeRemoveInstance)
		return
	}
	next := resp.State
	if next == "" {
		next = domain.StateUnknown
	}
	prev := s.setState(next, resp.Owner)
	if prev != next {
		s.logger.InfoContext(ctx, "Connection state changed", "from", prev, "to", next)
	}
	if prev == domain.StateOpen && next == domain.StateClosed {
		s.emit(eventbus.TypeNoConnection)
	}
}

func (s *Session) emit(eventType string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventType, Instance: s.name, Source: s})
}

func (s *Session) startPolling() {
	if s.cfg.PollInterval <= 0 {
		return
	}
	s.mu.Lock()
	if s.stopPoll != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopPoll = cancel
	s.pollDoneCh = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var resp stateResponse
				if err := s.do(ctx, http.MethodGet, "/state", nil, &resp); err != nil {
					if ctx.Err() == nil {
						s.logger.DebugContext(ctx, "State poll failed", "error", err)
					}
					continue
				}
				s.apply(ctx, resp)
			}
		}
	}()
}

// stopPollingAsync cancels polling without waiting; safe from the poll goroutine.
func (s *Session) stopPollingAsync() (done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPoll == nil {
		return nil
	}
	s.stopPoll()
	done = s.pollDoneCh
	s.stopPoll, s.pollDoneCh = nil, nil
	return done
}

func (s *Session) stopPolling() {
	if done := s.stopPollingAsync(); done != nil {
		<-done
	}
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	endpoint := fmt.Sprintf("%s/instances/%s%s", s.cfg.BaseURL, url.PathEscape(s.name), path)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("connector request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read connector response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			msg += ": " + er.Message
		}
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: connector %s", domain.ErrNotConnected, msg)
		}
		return fmt.Errorf("connector %s %s failed: %s", method, path, msg)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode connector response: %w", err)
		}
	}
	return nil
}
