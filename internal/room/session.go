package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSendBufferFull is returned by a Peer whose outbound queue cannot take
// another message.
var ErrSendBufferFull = errors.New("send buffer full")

// Handle identifies one accepted socket. It is stable for the socket's
// lifetime and is the key under which its attachment is persisted.
type Handle string

// NewHandle generates a fresh connection handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// Peer is the transport side of a connection as the room sees it.
type Peer interface {
	Handle() Handle
	// Send enqueues a text frame without blocking.
	Send(data []byte) error
	// Close stops delivery and shuts the socket down. It must be safe to call
	// more than once.
	Close()
}

// Session is the server-side record for one connection.
type Session struct {
	Handle   Handle
	Identity string
	JoinedAt time.Time

	peer Peer
}

func (s *Session) identified() bool {
	return s.Identity != ""
}
