package ws

import "time"

// ConnInfo describes one transport connection. Handle is unique per process.
type ConnInfo struct {
	Handle      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
