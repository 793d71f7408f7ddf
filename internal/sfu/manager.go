package sfu

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/metrics"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

// Config holds the settings shared by every room.
type Config struct {
	Capacity       int
	DebugRTPAddr   string
	PeerConnection webrtc.Configuration
}

// ConfigFrom derives the SFU settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Capacity:       cfg.Server.RoomCapacity,
		DebugRTPAddr:   cfg.Server.DebugRTPAddr,
		PeerConnection: rtc.PeerConnectionConfig(cfg.ICE),
	}
}

// Manager owns the rooms of the SFU.
type Manager struct {
	api     *webrtc.API
	cfg     Config
	metrics *metrics.Metrics

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates a manager. m may be nil.
func NewManager(api *webrtc.API, cfg Config, m *metrics.Metrics) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = config.DefaultRoomCapacity
	}
	return &Manager{
		api:     api,
		cfg:     cfg,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the room with id, creating it when missing.
func (m *Manager) GetOrCreate(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[id]; ok {
		return r
	}
	r := newRoom(id, m.cfg.Capacity, m)
	m.rooms[id] = r
	m.metrics.SetActiveRooms(len(m.rooms))
	slog.Info("Room created", "roomId", id, "capacity", r.Capacity)
	return r
}

// Get returns the room with id, or nil.
func (m *Manager) Get(id string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[id]
}

// Delete removes the room with id if it has no peers. It reports whether the
// room is gone.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return true
	}
	if r.Len() > 0 {
		return false
	}
	delete(m.rooms, id)
	m.metrics.SetActiveRooms(len(m.rooms))
	slog.Info("Room deleted", "roomId", id)
	return true
}

// Join seats p in room id, creating the room when missing. The room is never
// deleted between lookup and seating. On failure a room created for p is
// removed again.
func (m *Manager) Join(id string, p *Peer) (*Room, error) {
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		r = newRoom(id, m.cfg.Capacity, m)
		m.rooms[id] = r
		m.metrics.SetActiveRooms(len(m.rooms))
		slog.Info("Room created", "roomId", id, "capacity", r.Capacity)
	}
	err := r.reserve(p)
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrRoomFull) {
			m.metrics.RecordRoomFull()
		}
		return r, err
	}
	if err := r.attach(p); err != nil {
		m.Delete(id)
		return r, err
	}
	return r, nil
}

// Leave removes p from room id and deletes the room once empty. It reports
// whether p was removed by this call.
func (m *Manager) Leave(id string, p *Peer) bool {
	r := m.Get(id)
	if r == nil {
		return false
	}
	removed := r.RemovePeer(p)
	m.Delete(id)
	return removed
}

// PeerInfo describes a peer in a room listing.
type PeerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Tracks      int    `json:"tracks"`
}

// RoomInfo describes a room in a room listing.
type RoomInfo struct {
	ID        string     `json:"id"`
	Capacity  int        `json:"capacity"`
	Peers     []PeerInfo `json:"peers"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Rooms returns a snapshot of all rooms sorted by id.
func (m *Manager) Rooms() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		info := RoomInfo{ID: r.ID, Capacity: r.Capacity, CreatedAt: r.CreatedAt, Peers: []PeerInfo{}}
		for _, p := range r.Peers() {
			info.Peers = append(info.Peers, PeerInfo{
				ID:          p.ID.String(),
				DisplayName: p.DisplayName,
				Tracks:      r.publishedBy(p),
			})
		}
		sort.Slice(info.Peers, func(i, j int) bool { return info.Peers[i].ID < info.Peers[j].ID })
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close removes every peer from every room.
func (m *Manager) Close() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	for _, r := range rooms {
		for _, p := range r.Peers() {
			m.Leave(r.ID, p)
		}
	}
}
