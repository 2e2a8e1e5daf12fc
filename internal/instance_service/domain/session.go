package domain

import "context"

// SendResult carries the provider-assigned acknowledgement id, empty when none was returned.
type SendResult struct {
	AckID string `json:"ack_id,omitempty"`
}

// MediaMessage describes an outbound media send.
type MediaMessage struct {
	MediaType string `json:"media_type"` // image | video | audio | document
	URL       string `json:"url"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

// Session is the opaque connection capability behind an instance.
type Session interface {
	Name() string
	Connect(ctx context.Context) error
	// Disconnect closes the transport but keeps credentials.
	Disconnect(ctx context.Context) error
	// Logout invalidates the credentials on the provider side.
	Logout(ctx context.Context) error
	State() ConnectionState
	OwnerJID() string
	ProfileName(ctx context.Context) (string, error)
	ProfilePictureURL(ctx context.Context) (string, error)
	SendText(ctx context.Context, phone, text string) (SendResult, error)
	SendMedia(ctx context.Context, phone string, media MediaMessage) (SendResult, error)
	CheckReachable(ctx context.Context, phone string) (bool, error)
}

// SessionFactory builds a session for a named instance.
type SessionFactory interface {
	NewSession(name string) (Session, error)
}
