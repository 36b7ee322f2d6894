package storage

import "time"

// Bucket names for bbolt database
const (
	IdentityBucket = "identity"
	MetaBucket     = "meta"
)

// Keys
const (
	SchemaVersionKey = "schema"
	ClientIDKey      = "client_id"
)

// CurrentSchemaVersion is written on every open.
const CurrentSchemaVersion = 1

// DatabaseFileName is the bbolt file created inside the data directory.
const DatabaseFileName = "dashsync.db"

// IdentityRecord is the persisted client identifier.
type IdentityRecord struct {
	ClientID string    `json:"client_id"`
	Created  time.Time `json:"created"`
}
