package app

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

// Messenger sends through the session registered for an instance name.
type Messenger struct {
	registry *Registry
}

func NewMessenger(registry *Registry) *Messenger {
	return &Messenger{registry: registry}
}

// SendText returns the provider acknowledgement id, empty when none was given.
func (m *Messenger) SendText(ctx context.Context, instanceName, phone, text string) (string, error) {
	session, err := m.registry.Session(instanceName)
	if err != nil {
		return "", err
	}
	res, err := session.SendText(ctx, phone, text)
	if err != nil {
		return "", fmt.Errorf("send text via %q: %w", instanceName, err)
	}
	return res.AckID, nil
}

// SendMedia defaults the file name to the last segment of the media URL.
func (m *Messenger) SendMedia(ctx context.Context, instanceName, phone string, media domain.MediaMessage) (string, error) {
	session, err := m.registry.Session(instanceName)
	if err != nil {
		return "", err
	}
	if media.FileName == "" {
		media.FileName = fileNameFromURL(media.URL)
	}
	res, err := session.SendMedia(ctx, phone, media)
	if err != nil {
		return "", fmt.Errorf("send media via %q: %w", instanceName, err)
	}
	return res.AckID, nil
}

func (m *Messenger) CheckReachable(ctx context.Context, instanceName, phone string) (bool, error) {
	session, err := m.registry.Session(instanceName)
	if err != nil {
		return false, err
	}
	return session.CheckReachable(ctx, phone)
}

func fileNameFromURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	base := path.Base(raw)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
