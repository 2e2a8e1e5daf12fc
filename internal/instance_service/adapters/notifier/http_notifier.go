// Package notifier reports instance removals to an external system.
package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPNotifier issues DELETE <baseURL>/<instance> with a bearer token.
type HTTPNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPNotifier returns nil when baseURL is empty, which disables notifications.
func NewHTTPNotifier(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *HTTPNotifier {
	if baseURL == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.With("component", "removal_notifier"),
	}
}

func (n *HTTPNotifier) NotifyRemoved(ctx context.Context, instanceName string) error {
	endpoint := n.baseURL + "/" + url.PathEscape(instanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build removal notification: %w", err)
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send removal notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("removal notification for %q: unexpected status %d", instanceName, resp.StatusCode)
	}
	n.logger.InfoContext(ctx, "Removal notified", "instance", instanceName, "status_code", resp.StatusCode)
	return nil
}
