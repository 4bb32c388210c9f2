// Package store persists local device state: session credentials, the
// contact cache, notification settings and the queue of offline contact
// changes.
package store

import (
	"context"

	"github.com/sells-group/safewatch/internal/model"
)

// Fixed keys of the kv table.
const (
	KeyCredentials = "session.credentials"
	KeyContacts    = "contacts.cache"
	KeySettings    = "notification.settings"
)

// Store defines the local persistence interface.
type Store interface {
	// Session credentials. GetCredentials returns nil when none are stored.
	GetCredentials(ctx context.Context) (*model.SessionCredentials, error)
	SaveCredentials(ctx context.Context, creds model.SessionCredentials) error
	ClearCredentials(ctx context.Context) error

	// Contact cache. ok is false when nothing was ever cached.
	GetContacts(ctx context.Context) (contacts []model.EmergencyContact, ok bool, err error)
	SaveContacts(ctx context.Context, contacts []model.EmergencyContact) error

	// Notification settings. Defaults are returned when none are stored.
	GetNotificationSettings(ctx context.Context) (model.NotificationSettings, error)
	SaveNotificationSettings(ctx context.Context, s model.NotificationSettings) error

	// Pending contact changes, oldest first.
	EnqueuePending(ctx context.Context, p model.PendingContactChange) error
	ListPending(ctx context.Context) ([]model.PendingContactChange, error)
	UpdatePending(ctx context.Context, p model.PendingContactChange) error
	DeletePending(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
