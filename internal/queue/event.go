// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the background consumers that use them.
package queue

import "time"

const (
	// AccountEventsQueue carries AccountEvent messages.
	AccountEventsQueue = "account.events"
	// MediaOrphanedQueue carries MediaOrphanedEvent messages.
	MediaOrphanedQueue = "media.orphaned"
)

// Account event types.
const (
	AccountRegistered      = "account.registered"
	AccountLoggedIn        = "account.logged_in"
	AccountLoggedOut       = "account.logged_out"
	AccountPasswordChanged = "account.password_changed"
	AccountProfileUpdated  = "account.profile_updated"
	AccountAvatarUpdated   = "account.avatar_updated"
	AccountCoverUpdated    = "account.cover_updated"
)

// AccountEvent is published after a successful account mutation. It carries
// enough to write an audit trail without querying the primary database.
type AccountEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	Username   string    `json:"username"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MediaOrphanedEvent is published when a stored asset is no longer
// referenced by any account, e.g. after an avatar replacement.
type MediaOrphanedEvent struct {
	URL        string    `json:"url"`
	AccountID  string    `json:"account_id,omitempty"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
