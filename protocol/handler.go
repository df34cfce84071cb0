package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/FahadPatwary/seriousserver/domain"
	"github.com/FahadPatwary/seriousserver/hub"
	"github.com/FahadPatwary/seriousserver/metrics"
)

// Registry callbacks run under the room lock and must only queue frames.
type Registry interface {
	JoinNotify(code string, conn domain.Connection, notify func(hub.JoinResult, []domain.Connection)) (hub.JoinResult, error)
	Leave(code, clientID string) (remaining int, removed bool)
	RecordStateNotify(code, producerID string, state json.RawMessage, syncType string, notify func(domain.CachedState, []domain.Connection)) (domain.CachedState, error)
	AcceptRemote(code string, state domain.CachedState, notify func([]domain.Connection)) bool
	MembersExcluding(code, clientID string) []domain.Connection
	Members(code string) []domain.Connection
	RemoveFromAllRooms(clientID string) []hub.Departure
	Stats() (rooms, clients int)
}

type Limiter interface {
	Admit(id string) bool
	Forget(id string)
}

// Publisher forwards accepted updates to other relay instances. Publish
// must not block.
type Publisher interface {
	Publish(ev domain.RemoteSync) error
}

// Handler is the sync relay: it validates frames from one connection,
// updates the registry and decides who hears about it.
type Handler struct {
	rooms     Registry
	limiter   Limiter
	metrics   *metrics.Metrics
	publisher Publisher

	connected sync.Map // clientId -> struct{}
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

func NewHandler(rooms Registry, limiter Limiter, opts ...Option) *Handler {
	h := &Handler{rooms: rooms, limiter: limiter}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling message", "clientId", conn.ID(), "panic", r)
			h.reject(conn, fmt.Errorf("%w: %v", domain.ErrInternal, r))
		}
	}()

	if !h.limiter.Admit(conn.ID()) {
		h.reject(conn, domain.ErrRateLimitExceeded)
		return
	}

	var frame domain.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reject(conn, fmt.Errorf("%w: malformed frame", domain.ErrInvalidSyncPayload))
		return
	}
	h.metrics.Message(frame.Type)

	var err error
	switch frame.Type {
	case domain.TypePing:
		h.pong(conn, frame.Payload)
	case domain.TypeCreateRoom:
		err = h.createRoom(conn)
	case domain.TypeJoinRoom:
		err = h.joinRoom(conn, frame.Payload)
	case domain.TypeLeaveRoom:
		err = h.leaveRoom(conn, frame.Payload)
	case domain.TypeSyncMedia:
		err = h.syncMedia(conn, frame.Payload)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownMessage, frame.Type)
	}

	if err != nil {
		h.reject(conn, err)
	}
}

func (h *Handler) pong(conn domain.Connection, payload json.RawMessage) {
	var ping domain.Ping
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &ping)
	}
	h.send(conn, domain.TypePong, domain.Ping{Timestamp: ping.Timestamp, ClientID: conn.ID()})
}

func (h *Handler) createRoom(conn domain.Connection) error {
	code, err := hub.NewRoomCode()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	h.send(conn, domain.TypeRoomCreated, domain.RoomRef{RoomCode: code})
	return nil
}

func (h *Handler) joinRoom(conn domain.Connection, payload json.RawMessage) error {
	code, err := roomCodeFrom(payload)
	if err != nil {
		return err
	}

	_, err = h.rooms.JoinNotify(code, conn, func(res hub.JoinResult, others []domain.Connection) {
		h.send(conn, domain.TypeRoomJoined, domain.RoomRef{RoomCode: res.RoomCode, UserCount: res.Count})

		if res.Cached != nil {
			slog.Debug("sending cached state", "room", res.RoomCode, "clientId", conn.ID())
			h.send(conn, domain.TypeSyncMedia, res.Cached.Broadcast(true))
			h.metrics.Resync()
		}

		if res.Added {
			h.fanout(others, domain.TypeUserJoined, domain.Presence{UserID: conn.ID(), UserCount: res.Count})
		}
	})
	if err != nil {
		return err
	}
	h.observeRooms()
	return nil
}

func (h *Handler) leaveRoom(conn domain.Connection, payload json.RawMessage) error {
	raw, err := roomCodeFrom(payload)
	if err != nil {
		return err
	}
	code, err := hub.NormalizeRoomCode(raw)
	if err != nil {
		return err
	}

	remaining, removed := h.rooms.Leave(code, conn.ID())
	h.send(conn, domain.TypeRoomLeft, domain.RoomRef{RoomCode: code})

	if removed && remaining > 0 {
		h.fanout(h.rooms.Members(code), domain.TypeUserLeft,
			domain.Presence{UserID: conn.ID(), UserCount: remaining})
	}
	h.observeRooms()
	return nil
}

func (h *Handler) syncMedia(conn domain.Connection, payload json.RawMessage) error {
	var req domain.SyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: payload must be an object", domain.ErrInvalidSyncPayload)
	}
	if req.Room() == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrInvalidSyncPayload)
	}
	code, err := hub.NormalizeRoomCode(req.Room())
	if err != nil {
		return err
	}
	if err := domain.ValidateMediaState(req.MediaState); err != nil {
		return err
	}

	_, err = h.rooms.RecordStateNotify(code, conn.ID(), req.MediaState, req.SyncType, func(cached domain.CachedState, others []domain.Connection) {
		h.metrics.Delivered(h.fanout(others, domain.TypeSyncMedia, cached.Broadcast(false)))
		h.publish(code, cached)
	})
	return err
}

func (h *Handler) publish(code string, cached domain.CachedState) {
	if h.publisher == nil {
		return
	}
	ev := domain.RemoteSync{
		RoomCode:   code,
		SenderID:   cached.ProducerID,
		SyncType:   cached.SyncType,
		Timestamp:  cached.Timestamp,
		MediaState: cached.State,
	}
	if err := h.publisher.Publish(ev); err != nil {
		slog.Warn("publish failed", "room", code, "clientId", cached.ProducerID, "error", err)
	}
}

// DeliverRemote hands an update relayed by another instance to every local
// member of the room and caches it for late joiners.
func (h *Handler) DeliverRemote(ev domain.RemoteSync) {
	cached := domain.CachedState{
		State:      ev.MediaState,
		ProducerID: ev.SenderID,
		SyncType:   ev.SyncType,
		Timestamp:  ev.Timestamp,
	}
	accepted := h.rooms.AcceptRemote(ev.RoomCode, cached, func(members []domain.Connection) {
		h.metrics.Delivered(h.fanout(members, domain.TypeSyncMedia, cached.Broadcast(false)))
	})
	if !accepted {
		slog.Debug("remote sync for unknown room", "room", ev.RoomCode)
	}
}

// fanout sends one frame to every target. A failed send means the
// connection cannot keep up; it is closed and cleaned up by Disconnect.
func (h *Handler) fanout(targets []domain.Connection, msgType string, payload any) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := domain.Encode(msgType, payload)
	if err != nil {
		slog.Error("marshal error", "type", msgType, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			slog.Warn("dropping slow client", "clientId", conn.ID(), "error", err)
			go func(c domain.Connection) {
				_ = c.Close()
			}(conn)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Handler) send(conn domain.Connection, msgType string, payload any) {
	data, err := domain.Encode(msgType, payload)
	if err != nil {
		slog.Error("marshal error", "clientId", conn.ID(), "type", msgType, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "clientId", conn.ID(), "type", msgType, "error", err)
	}
}

func (h *Handler) reject(conn domain.Connection, err error) {
	clientErr := domain.ClientError(err)
	if clientErr.Code == domain.CodeInternalRelayError {
		slog.Error("internal relay error", "clientId", conn.ID(), "error", err)
	} else {
		slog.Debug("rejected message", "clientId", conn.ID(), "code", clientErr.Code, "error", err)
	}
	h.metrics.Reject(clientErr.Code)
	h.send(conn, domain.TypeRoomError, clientErr)
}

func (h *Handler) observeRooms() {
	rooms, _ := h.rooms.Stats()
	h.metrics.SetRooms(rooms)
}

// roomCodeFrom accepts either a bare JSON string or an object carrying
// roomCode (or roomId).
func roomCodeFrom(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: room code is required", domain.ErrInvalidRoomCode)
	}

	var bare string
	if err := json.Unmarshal(payload, &bare); err == nil {
		return bare, nil
	}

	var ref struct {
		RoomCode *string `json:"roomCode"`
		RoomID   *string `json:"roomId"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return "", fmt.Errorf("%w: room code must be a string", domain.ErrInvalidRoomCode)
		}
		return "", fmt.Errorf("%w: malformed payload", domain.ErrInvalidRoomCode)
	}

	switch {
	case ref.RoomCode != nil:
		return *ref.RoomCode, nil
	case ref.RoomID != nil:
		return *ref.RoomID, nil
	default:
		return "", fmt.Errorf("%w: room code is required", domain.ErrInvalidRoomCode)
	}
}
