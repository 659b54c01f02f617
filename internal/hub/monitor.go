package hub

import (
	"github.com/samber/lo"

	"github.com/vanneszias/Safe-Chat/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	entries := ms.hub.registry.snapshot()

	clients := lo.Map(entries, func(e entry, _ int) model.ClientInfo {
		return model.ClientInfo{
			UserID:        e.userID.String(),
			SessionID:     e.mailbox.SessionID(),
			PendingEvents: e.mailbox.Len(),
		}
	})

	connections := model.ConnectionStats{
		TotalConnected: len(clients),
		PendingEvents:  lo.SumBy(clients, func(c model.ClientInfo) int { return c.PendingEvents }),
		DroppedEvents:  ms.hub.registry.Dropped(),
	}

	// Determine overall health status
	status := "healthy"
	if connections.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connections,
		Clients:     clients,
	}
}
