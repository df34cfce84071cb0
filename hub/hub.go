package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FahadPatwary/seriousserver/domain"
)

const DefaultStaleAfter = 30 * time.Second

type room struct {
	clients map[string]domain.Connection
	state   *domain.CachedState
	mu      sync.RWMutex
}

// Hub is the in-memory room registry. Rooms exist only while they have
// members; the last member leaving drops the room and its cached state.
type Hub struct {
	rooms       map[string]*room
	memberships map[string]map[string]struct{} // clientId -> room codes
	mu          sync.RWMutex

	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Hub)

func WithStaleAfter(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.staleAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
		staleAfter:  DefaultStaleAfter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type JoinResult struct {
	RoomCode string
	Added    bool
	Count    int
	Cached   *domain.CachedState
}

// Departure describes one room a connection was removed from.
type Departure struct {
	RoomCode  string
	Remaining int
}

// Join adds conn to the room, creating it if needed. Cached state is only
// returned while it is younger than the staleness threshold.
func (h *Hub) Join(code string, conn domain.Connection) (JoinResult, error) {
	return h.JoinNotify(code, conn, nil)
}

// JoinNotify is Join with a callback that runs while the room is still
// locked, receiving the result and the other members. notify must not block
// or call back into the Hub.
func (h *Hub) JoinNotify(code string, conn domain.Connection, notify func(JoinResult, []domain.Connection)) (JoinResult, error) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return JoinResult{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[code]
	if !exists {
		r = &room{clients: make(map[string]domain.Connection)}
		h.rooms[code] = r
		slog.Info("room created", "room", code)
	}

	rooms, ok := h.memberships[conn.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		h.memberships[conn.ID()] = rooms
	}
	rooms[code] = struct{}{}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, already := r.clients[conn.ID()]
	r.clients[conn.ID()] = conn
	res := JoinResult{RoomCode: code, Added: !already, Count: len(r.clients), Cached: h.fresh(r.state)}

	if !already {
		slog.Info("client joined", "room", code, "clientId", conn.ID(), "clients", res.Count)
	}

	if notify != nil {
		notify(res, r.others(conn.ID()))
	}
	return res, nil
}

// Leave removes the connection from the room and reports how many members
// remain. removed is false when the connection was not a member.
func (h *Hub) Leave(code, clientID string) (remaining int, removed bool) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return 0, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.leaveLocked(code, clientID)
}

// RemoveFromAllRooms is the disconnect path. It visits only the rooms the
// connection belongs to.
func (h *Hub) RemoveFromAllRooms(clientID string) []Departure {
	h.mu.Lock()
	defer h.mu.Unlock()

	codes := h.memberships[clientID]
	departures := make([]Departure, 0, len(codes))
	for code := range codes {
		remaining, removed := h.leaveLocked(code, clientID)
		if removed {
			departures = append(departures, Departure{RoomCode: code, Remaining: remaining})
		}
	}
	delete(h.memberships, clientID)
	return departures
}

func (h *Hub) leaveLocked(code, clientID string) (int, bool) {
	r, exists := h.rooms[code]
	if !exists {
		return 0, false
	}

	r.mu.Lock()
	_, member := r.clients[clientID]
	delete(r.clients, clientID)
	count := len(r.clients)
	r.mu.Unlock()

	if rooms, ok := h.memberships[clientID]; ok {
		delete(rooms, code)
		if len(rooms) == 0 {
			delete(h.memberships, clientID)
		}
	}

	if member {
		slog.Info("client left", "room", code, "clientId", clientID, "clients", count)
	}

	if count == 0 {
		delete(h.rooms, code)
		slog.Info("room removed", "room", code)
	}
	return count, member
}

// RecordState overwrites the room's cached state. Last writer wins.
func (h *Hub) RecordState(code, producerID string, state json.RawMessage, syncType string) (domain.CachedState, error) {
	return h.RecordStateNotify(code, producerID, state, syncType, nil)
}

// RecordStateNotify records the state and hands it to notify together with
// the producer's fellow members before the room is unlocked, so members
// receive updates in the order they were cached. notify must not block or
// call back into the Hub.
func (h *Hub) RecordStateNotify(code, producerID string, state json.RawMessage, syncType string, notify func(domain.CachedState, []domain.Connection)) (domain.CachedState, error) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return domain.CachedState{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	r, exists := h.rooms[code]
	if !exists {
		return domain.CachedState{}, fmt.Errorf("%w %s", domain.ErrNotInRoom, code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, member := r.clients[producerID]; !member {
		return domain.CachedState{}, fmt.Errorf("%w %s", domain.ErrNotInRoom, code)
	}

	cached := h.store(r, producerID, state, syncType)
	if notify != nil {
		notify(cached, r.others(producerID))
	}
	return cached, nil
}

// AcceptRemote caches state relayed from another instance and passes every
// local member to notify under the room lock. It is a no-op when no local
// member is in the room.
func (h *Hub) AcceptRemote(code string, state domain.CachedState, notify func([]domain.Connection)) bool {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	r, exists := h.rooms[code]
	if !exists {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = &state
	if notify != nil {
		notify(r.others(""))
	}
	return true
}

func (h *Hub) store(r *room, producerID string, state json.RawMessage, syncType string) domain.CachedState {
	cached := domain.CachedState{
		State:      append(json.RawMessage(nil), state...),
		ProducerID: producerID,
		SyncType:   syncType,
		Timestamp:  h.now().UnixMilli(),
	}
	r.state = &cached
	return cached
}

func (h *Hub) fresh(state *domain.CachedState) *domain.CachedState {
	if state == nil {
		return nil
	}
	age := h.now().Sub(time.UnixMilli(state.Timestamp))
	if age >= h.staleAfter {
		return nil
	}
	cp := *state
	return &cp
}

// MembersExcluding returns the fan-out targets for a broadcast from clientID.
func (h *Hub) MembersExcluding(code, clientID string) []domain.Connection {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return nil
	}

	h.mu.RLock()
	r, exists := h.rooms[code]
	h.mu.RUnlock()

	if !exists {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.others(clientID)
}

func (h *Hub) Members(code string) []domain.Connection {
	return h.MembersExcluding(code, "")
}

// others lists the members except clientID. Callers hold r.mu.
func (r *room) others(clientID string) []domain.Connection {
	members := make([]domain.Connection, 0, len(r.clients))
	for id, conn := range r.clients {
		if id == clientID {
			continue
		}
		members = append(members, conn)
	}
	return members
}

// RoomsOf lists the rooms a connection currently belongs to.
func (h *Hub) RoomsOf(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	codes := make([]string, 0, len(h.memberships[clientID]))
	for code := range h.memberships[clientID] {
		codes = append(codes, code)
	}
	return codes
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		clients += len(r.clients)
		r.mu.RUnlock()
	}
	return rooms, clients
}
