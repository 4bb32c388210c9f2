package model

import (
	"strings"
	"time"
)

// LocalIDPrefix marks contact ids assigned on the device before the backend
// has accepted the contact.
const LocalIDPrefix = "local-"

// EmergencyContact is a person notified on emergency alerts.
type EmergencyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name" validate:"required"`
	Phone        string `json:"phone" validate:"required,e164"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Relationship string `json:"relationship"`
	IsPrimary    bool   `json:"isPrimary"`
	IsActive     bool   `json:"isActive"`
}

// IsLocal reports whether the contact only exists in the local cache.
func (c EmergencyContact) IsLocal() bool {
	return strings.HasPrefix(c.ID, LocalIDPrefix)
}

// ActiveContacts filters contacts down to the active ones.
func ActiveContacts(contacts []EmergencyContact) []EmergencyContact {
	var out []EmergencyContact
	for _, c := range contacts {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// ContactOp is the kind of an offline contact mutation.
type ContactOp string

const (
	ContactOpCreate ContactOp = "create" // Save made offline, id is local
	ContactOpUpdate ContactOp = "update"
	ContactOpDelete ContactOp = "delete"
)

// PendingContactChange is a contact mutation applied locally during an outage
// and waiting to be replayed against the backend.
type PendingContactChange struct {
	ID           string           `json:"id"`
	Op           ContactOp        `json:"op"`
	Contact      EmergencyContact `json:"contact"`
	RetryCount   int              `json:"retry_count"`
	MaxRetries   int              `json:"max_retries"`
	LastError    string           `json:"last_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastFailedAt time.Time        `json:"last_failed_at"`
}

// CanRetry returns true if this change hasn't exceeded its max retry count.
func (p *PendingContactChange) CanRetry() bool {
	return p.MaxRetries <= 0 || p.RetryCount < p.MaxRetries
}
