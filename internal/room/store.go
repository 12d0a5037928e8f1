package room

import (
	"context"
	"sync"

	"github.com/mossy-p/video-chat-relay/internal/models"
)

// AttachmentStore persists connection attachments per room so identities can
// be recovered when a room instance is reactivated.
type AttachmentStore interface {
	Save(ctx context.Context, roomID string, h Handle, a models.Attachment) error
	Load(ctx context.Context, roomID string) (map[Handle]models.Attachment, error)
	Delete(ctx context.Context, roomID string, handles ...Handle) error
}

// MemoryStore keeps attachments in process memory. It survives room eviction
// but not a process restart.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]map[Handle]models.Attachment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[Handle]models.Attachment)}
}

func (s *MemoryStore) Save(_ context.Context, roomID string, h Handle, a models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attachments, ok := s.rooms[roomID]
	if !ok {
		attachments = make(map[Handle]models.Attachment)
		s.rooms[roomID] = attachments
	}
	attachments[h] = a
	return nil
}

func (s *MemoryStore) Load(_ context.Context, roomID string) (map[Handle]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Handle]models.Attachment, len(s.rooms[roomID]))
	for h, a := range s.rooms[roomID] {
		out[h] = a
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, roomID string, handles ...Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attachments, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for _, h := range handles {
		delete(attachments, h)
	}
	if len(attachments) == 0 {
		delete(s.rooms, roomID)
	}
	return nil
}
