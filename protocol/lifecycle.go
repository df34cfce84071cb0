package protocol

import (
	"log/slog"

	"github.com/FahadPatwary/seriousserver/domain"
)

// Connect registers a freshly accepted connection. Rate limit tracking is
// created lazily on its first request.
func (h *Handler) Connect(conn domain.Connection) {
	if _, loaded := h.connected.LoadOrStore(conn.ID(), struct{}{}); loaded {
		return
	}
	h.metrics.ConnectionOpened()
	slog.Info("client connected", "clientId", conn.ID())
}

// Disconnect removes the connection from every room it joined, tells the
// remaining members and drops its rate limit window. It does not rely on the
// client having sent leaveRoom and is safe to call more than once.
func (h *Handler) Disconnect(conn domain.Connection) {
	departures := h.rooms.RemoveFromAllRooms(conn.ID())
	for _, d := range departures {
		if d.Remaining == 0 {
			continue
		}
		h.fanout(h.rooms.Members(d.RoomCode), domain.TypeUserLeft,
			domain.Presence{UserID: conn.ID(), UserCount: d.Remaining})
	}
	h.limiter.Forget(conn.ID())
	h.observeRooms()

	if _, loaded := h.connected.LoadAndDelete(conn.ID()); loaded {
		h.metrics.ConnectionClosed()
		slog.Info("client disconnected", "clientId", conn.ID(), "rooms", len(departures))
	}
}
