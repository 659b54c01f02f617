package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy" or "idle"
	Connections ConnectionStats `json:"connections"` // Presence registry stats
	Clients     []ClientInfo    `json:"clients"`     // Users reachable for push
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int    `json:"totalConnected"` // Users with a registered session
	PendingEvents  int    `json:"pendingEvents"`  // Events waiting in all mailboxes
	DroppedEvents  uint64 `json:"droppedEvents"`  // Events discarded by overflow since start
}

// ClientInfo contains information about a connected user
type ClientInfo struct {
	UserID        string `json:"userId"`
	SessionID     string `json:"sessionId"`
	PendingEvents int    `json:"pendingEvents"`
}
