package domain

import "time"

// MessageRecord is one journal entry. Records are appended, never changed.
type MessageRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	EndpointID string         `json:"endpoint_id"`
	Sender     string         `json:"sender"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
}

// Stats are the process-wide aggregate counters.
type Stats struct {
	MessagesRelayed     int64      `json:"messages_relayed"`
	ConnectionsAccepted int64      `json:"connections_accepted"`
	EmergenciesHandled  int64      `json:"emergencies_handled"`
	StartTime           time.Time  `json:"start_time"`
	LastBackup          *time.Time `json:"last_backup"`
}

// Backup is a full point-in-time copy of the relay state.
type Backup struct {
	Timestamp         time.Time          `json:"timestamp"`
	Endpoints         []Endpoint         `json:"endpoints"`
	Stats             Stats              `json:"stats"`
	LastMessages      map[string]*string `json:"last_messages"`
	ActiveConnections int                `json:"active_connections"`
}

// StatusReport is the lightweight status snapshot.
type StatusReport struct {
	Timestamp         time.Time         `json:"timestamp"`
	EndpointStatuses  map[string]Status `json:"endpoint_statuses"`
	ActiveConnections int               `json:"active_connections"`
	Stats             Stats             `json:"stats"`
	Running           bool              `json:"running"`
}
