package domain

import "errors"

var (
	// ErrNotFound indicates no instance is registered under the given name.
	ErrNotFound = errors.New("instance not found")
	// ErrNotConnected indicates the session exists but never reached the open state.
	ErrNotConnected = errors.New("instance not connected")
	// ErrAlreadyExists indicates a provisioning request for a registered name.
	ErrAlreadyExists = errors.New("instance already exists")
	// ErrBackendUnavailable wraps storage backend failures.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrInvalidName indicates an instance or artifact name that cannot be stored safely.
	ErrInvalidName = errors.New("invalid name")
	// ErrArtifactNotFound indicates a missing session artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
)
