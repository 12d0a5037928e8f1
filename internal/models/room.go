package models

import "time"

// RoomInfo describes an active room instance
type RoomInfo struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`    // Accepted sockets
	Identified int       `json:"identified"` // Sockets that have sent at least one message
	LastActive time.Time `json:"lastActive"`
}

// Attachment is the per-connection metadata persisted outside process memory
// so a reactivated room can restore identities.
type Attachment struct {
	Identity   string    `msgpack:"id" json:"id"`
	AssignedAt time.Time `msgpack:"assigned_at" json:"assignedAt"`
}
