package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/video-chat-relay/internal/models"
	"github.com/sirupsen/logrus"
)

// Hub owns every active room instance, keyed by room identifier.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	store   AttachmentStore
	idleTTL time.Duration
}

// NewHub creates a hub. Empty rooms are dropped once they have been idle for
// idleTTL.
func NewHub(store AttachmentStore, idleTTL time.Duration) *Hub {
	return &Hub{
		rooms:   make(map[string]*Room),
		store:   store,
		idleTTL: idleTTL,
	}
}

// Accept routes an accepted socket to its room, activating the room if needed.
func (h *Hub) Accept(ctx context.Context, roomID string, p Peer) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.activateLocked(ctx, roomID, nil)
	r.Accept(p)
	return r
}

// Activate returns the room for roomID. A room that is not resident is
// created and restored with live before it becomes reachable.
func (h *Hub) Activate(ctx context.Context, roomID string, live []Peer) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.activateLocked(ctx, roomID, live)
}

func (h *Hub) activateLocked(ctx context.Context, roomID string, live []Peer) *Room {
	if r, ok := h.rooms[roomID]; ok {
		for _, p := range live {
			r.Accept(p)
		}
		return r
	}

	r := New(roomID, h.store)
	if err := r.Restore(ctx, live); err != nil {
		logrus.WithField("room", roomID).WithError(err).Warn("Room restored without persisted attachments")
		for _, p := range live {
			r.Accept(p)
		}
	}
	h.rooms[roomID] = r
	logrus.WithField("room", roomID).Info("Created new room")
	return r
}

// Lookup returns the resident room for roomID.
func (h *Hub) Lookup(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	return r, ok
}

// Rooms lists every resident room ordered by identifier.
func (h *Hub) Rooms() []models.RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]models.RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evict closes every socket in roomID and forgets the room.
func (h *Hub) Evict(ctx context.Context, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	r.CloseAll(ctx)
	delete(h.rooms, roomID)
	logrus.WithField("room", roomID).Info("Room evicted")
	return true
}

// Sweep drops empty rooms idle since before now-idleTTL and reports how many
// were removed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, r := range h.rooms {
		info := r.Info()
		if info.Members > 0 || now.Sub(info.LastActive) < h.idleTTL {
			continue
		}
		delete(h.rooms, id)
		removed++
		logrus.WithField("room", id).Info("Removed idle room")
	}
	return removed
}

// Run sweeps idle rooms until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	interval := h.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}
