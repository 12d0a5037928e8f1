package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/video-chat-relay/internal/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnknownHandle is returned when an operation names a handle that is not
// registered in the room.
var ErrUnknownHandle = errors.New("unknown connection handle")

// Room is one addressable room instance. It owns the registry of sessions and
// relays messages between them. Every event is processed under mu, so events
// for one room are applied one at a time in arrival order.
type Room struct {
	ID string

	mu         sync.Mutex
	sessions   map[Handle]*Session
	store      AttachmentStore
	lastActive time.Time
	now        func() time.Time
	log        *logrus.Entry
}

// New creates an empty room instance backed by store.
func New(id string, store AttachmentStore) *Room {
	return &Room{
		ID:         id,
		sessions:   make(map[Handle]*Session),
		store:      store,
		lastActive: time.Now(),
		now:        time.Now,
		log:        logrus.WithField("room", id),
	}
}

// Accept registers a newly accepted socket with no identity yet.
func (r *Room) Accept(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := p.Handle()
	r.sessions[h] = &Session{
		Handle:   h,
		JoinedAt: r.now(),
		peer:     p,
	}
	r.touch()
	r.log.WithField("handle", h).Debug("Connection accepted")
}

// OnMessage handles one inbound frame from h. The first frame on a connection
// assigns its identity and answers with a private ready message before the
// frame itself is relayed.
//
// A frame on an unregistered handle means the transport is broken and panics.
func (r *Room) OnMessage(ctx context.Context, h Handle, raw []byte) {
	if !r.Receive(ctx, h, raw) {
		panic(fmt.Sprintf("room %s: message on unregistered handle %s", r.ID, h))
	}
}

// Receive is OnMessage for transports whose read loop can race a removal. It
// reports false, doing nothing, when h is not registered. A removal always
// closes the peer first, under the same lock, so a transport that sees false
// while its peer is still open has a real bug.
func (r *Room) Receive(ctx context.Context, h Handle, raw []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[h]
	if !ok {
		return false
	}
	r.touch()

	if !s.identified() {
		s.Identity = uuid.NewString()
		attachment := models.Attachment{Identity: s.Identity, AssignedAt: r.now()}
		if err := r.store.Save(ctx, r.ID, h, attachment); err != nil {
			r.log.WithError(err).WithField("handle", h).Error("Failed to persist attachment")
		}
		r.deliver(s, models.NewReady(s.Identity))
		r.log.WithFields(logrus.Fields{"handle": h, "id": s.Identity}).Info("Peer identified")
	}

	msg, err := models.ParseMessage(raw)
	if err != nil {
		r.log.WithError(err).WithField("id", s.Identity).Warn("Dropping unparseable message")
		return true
	}
	r.broadcastLocked(s, msg)
	return true
}

// Broadcast relays msg from sender to every other member, tagged with the
// sender's identity. It returns how many members the message was handed to.
func (r *Room) Broadcast(sender Handle, msg models.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sender]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHandle, "broadcast from %s", sender)
	}
	return r.broadcastLocked(s, msg), nil
}

// BroadcastRaw is Broadcast for a JSON text payload.
func (r *Room) BroadcastRaw(sender Handle, raw []byte) (int, error) {
	msg, err := models.ParseMessage(raw)
	if err != nil {
		return 0, err
	}
	return r.Broadcast(sender, msg)
}

// OnClose removes h from the room. Members that announced themselves get a
// left notice; a connection that never sent anything disappears silently.
// Closing a handle that is already gone is a no-op.
func (r *Room) OnClose(ctx context.Context, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(ctx, h)
}

// OnError is OnClose for a socket that failed.
func (r *Room) OnError(ctx context.Context, h Handle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[h]; ok {
		r.log.WithError(err).WithField("handle", h).Warn("Connection error")
	}
	r.removeLocked(ctx, h)
}

// Leave removes a member at its own request.
func (r *Room) Leave(ctx context.Context, h Handle) {
	r.OnClose(ctx, h)
}

// Restore rebuilds the registry for a reactivated room. Each live peer gets
// the identity persisted for its handle; persisted attachments without a live
// socket are purged. An error means nothing was registered.
func (r *Room) Restore(ctx context.Context, live []Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.store.Load(ctx, r.ID)
	if err != nil {
		return errors.Wrap(err, "restore room")
	}

	for _, p := range live {
		h := p.Handle()
		a := stored[h]
		r.sessions[h] = &Session{
			Handle:   h,
			Identity: a.Identity,
			JoinedAt: r.now(),
			peer:     p,
		}
		delete(stored, h)
	}

	if len(stored) > 0 {
		stale := make([]Handle, 0, len(stored))
		for h := range stored {
			stale = append(stale, h)
		}
		if err := r.store.Delete(ctx, r.ID, stale...); err != nil {
			r.log.WithError(err).Error("Failed to purge stale attachments")
		} else {
			r.log.WithField("count", len(stale)).Info("Purged stale attachments")
		}
	}

	r.touch()
	return nil
}

// CloseAll drops every session without notices and closes their sockets.
func (r *Room) CloseAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]Handle, 0, len(r.sessions))
	for h, s := range r.sessions {
		s.peer.Close()
		handles = append(handles, h)
	}
	r.sessions = make(map[Handle]*Session)
	if err := r.store.Delete(ctx, r.ID, handles...); err != nil {
		r.log.WithError(err).Error("Failed to delete attachments")
	}
	r.touch()
}

// Info returns a snapshot of the room's membership.
func (r *Room) Info() models.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := models.RoomInfo{
		ID:         r.ID,
		Members:    len(r.sessions),
		LastActive: r.lastActive,
	}
	for _, s := range r.sessions {
		if s.identified() {
			info.Identified++
		}
	}
	return info
}

func (r *Room) removeLocked(ctx context.Context, h Handle) {
	s, ok := r.sessions[h]
	if !ok {
		return
	}
	r.touch()

	if s.identified() {
		r.broadcastLocked(s, models.Message{Type: models.MessageTypeLeft})
		if err := r.store.Delete(ctx, r.ID, h); err != nil {
			r.log.WithError(err).WithField("handle", h).Error("Failed to delete attachment")
		}
		r.log.WithField("id", s.Identity).Info("Peer left")
	}

	delete(r.sessions, h)
	s.peer.Close()
}

func (r *Room) broadcastLocked(sender *Session, msg models.Message) int {
	data, err := json.Marshal(msg.Tagged(sender.Identity))
	if err != nil {
		r.log.WithError(err).Error("Failed to marshal message")
		return 0
	}

	delivered := 0
	for h, s := range r.sessions {
		if h == sender.Handle {
			continue
		}
		if err := s.peer.Send(data); err != nil {
			r.log.WithError(err).WithField("handle", h).Warn("Failed to send message to peer")
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Room) deliver(s *Session, msg models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.WithError(err).Error("Failed to marshal message")
		return
	}
	if err := s.peer.Send(data); err != nil {
		r.log.WithError(err).WithField("handle", s.Handle).Warn("Failed to send message to peer")
	}
}

func (r *Room) touch() {
	r.lastActive = r.now()
}
