package domain

import (
	"context"
)

// LogStore persists the full ordered message log of a room under the room ID.
type LogStore interface {
	// Load returns the persisted log sorted by CreatedAt, or an empty slice
	// when nothing was stored for the room.
	Load(ctx context.Context, roomID string) ([]*Message, error)
	// Save replaces the whole persisted log for the room.
	Save(ctx context.Context, roomID string, msgs []*Message) error
}

// DeliverFunc hands a message to the transport. A true result with a nil
// error means the transport accepted the message; anything else is failure.
type DeliverFunc func(ctx context.Context, m Message) (bool, error)

// Uploader turns a local file into an attachment descriptor.
type Uploader interface {
	Upload(ctx context.Context, f LocalFile, token string) (Attachment, error)
}

// CredentialSource supplies the bearer token and identity of the session.
type CredentialSource interface {
	Credentials() (Credentials, bool)
}

// RoomLister is implemented by stores that can enumerate the rooms they hold.
type RoomLister interface {
	Rooms(ctx context.Context) ([]string, error)
}
