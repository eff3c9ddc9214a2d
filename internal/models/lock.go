package models

import "time"

// Lock is an advisory edit lock held by one user on one element of a schema
type Lock struct {
	ElementID string    `json:"element_id"`
	UserID    string    `json:"user_id"`
	SchemaID  string    `json:"schema_id"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewLock creates a lock that expires ttl after now
func NewLock(elementID, userID, schemaID string, now time.Time, ttl time.Duration) *Lock {
	return &Lock{
		ElementID: elementID,
		UserID:    userID,
		SchemaID:  schemaID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the lock is past its expiry at now
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Refresh pushes the expiry to now+ttl
func (l *Lock) Refresh(now time.Time, ttl time.Duration) {
	l.ExpiresAt = now.Add(ttl)
}

// LockResult is the answer to a lock or unlock request
type LockResult struct {
	Success      bool       `json:"success"`
	ElementID    string     `json:"element_id"`
	UserID       string     `json:"user_id"`
	LockedByUser bool       `json:"locked_by_user"`
	Message      string     `json:"message"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// LockedElement describes an active lock as seen by a given user
type LockedElement struct {
	ElementID    string    `json:"element_id"`
	UserID       string    `json:"user_id"`
	LockedByUser bool      `json:"locked_by_user"`
	ExpiresAt    time.Time `json:"expires_at"`
}
