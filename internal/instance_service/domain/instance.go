package domain

import (
	"fmt"
	"regexp"
	"time"
)

// ConnectionState of a session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateUnknown    ConnectionState = "unknown"
)

// ProfileNameFallback is reported when the session has not resolved a display name.
const ProfileNameFallback = "not loaded"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateName rejects names that are unsafe as directory, collection or key names.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Instance is a registry entry. The session is owned exclusively by the registry.
type Instance struct {
	Name      string
	Session   Session
	CreatedAt time.Time
}

// State is a shortcut for the session's current connection state.
func (i *Instance) State() ConnectionState {
	if i == nil || i.Session == nil {
		return StateUnknown
	}
	return i.Session.State()
}

// InstanceStatus is the result of a successful readiness check.
type InstanceStatus struct {
	InstanceName      string `json:"instance_name"`
	Owner             string `json:"owner"`
	ProfileName       string `json:"profile_name"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// InstanceSummary is a point-in-time view used for listings.
type InstanceSummary struct {
	Name  string          `json:"name"`
	State ConnectionState `json:"state"`
}
