package models

import "time"

// Identity is the authenticated user context supplied by the hosting application.
type Identity struct {
	ID   string `db:"identity_id" json:"id"`
	Name string `db:"name" json:"name"`
	Role string `db:"role" json:"role"`
}

// PresenceStatus is either online or offline; there is no away state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceEntry is an identity together with its current status.
type PresenceEntry struct {
	Identity
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}
