package domain

import (
	"context"
	"fmt"
	"regexp"
)

const (
	// IdentityArtifact is written once at provisioning so the instance is
	// rediscovered on restart. It never matches an ephemeral pattern.
	IdentityArtifact = "instance.json"
	// CredentialsArtifact holds the session credentials owned by the session layer.
	CredentialsArtifact = "creds.json"
)

var ephemeralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^app\.state.*`),
	regexp.MustCompile(`^session-.*`),
}

var artifactKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// ValidateArtifactKey rejects keys that could escape an instance's namespace.
func ValidateArtifactKey(key string) error {
	if !artifactKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: artifact key %q", ErrInvalidName, key)
	}
	return nil
}

// IsEphemeralArtifact reports whether a session artifact key is transient state
// that the periodic sweep may delete.
func IsEphemeralArtifact(key string) bool {
	for _, p := range ephemeralPatterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// ArtifactStore persists per-instance session artifacts.
type ArtifactStore interface {
	// Kind names the backend for logs and metrics.
	Kind() string
	ListInstanceNames(ctx context.Context) ([]string, error)
	// PurgeInstance deletes every artifact of name. Missing data is not an error.
	PurgeInstance(ctx context.Context, name string) error
	// PurgeStaleArtifacts deletes ephemeral artifacts of all instances and returns how many were removed.
	PurgeStaleArtifacts(ctx context.Context) (int, error)
	WriteArtifact(ctx context.Context, name, key string, data []byte) error
	ReadArtifact(ctx context.Context, name, key string) ([]byte, error)
	Close(ctx context.Context) error
}
