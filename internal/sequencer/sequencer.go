// Package sequencer drives one side of a peer-to-peer call. It decides, for
// every message received from the relay, which negotiation step to run next
// on the local peer connection.
package sequencer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/mossy-p/video-chat-relay/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the negotiation state of one client.
type State string

const (
	StateIdle      State = "idle"
	StateJoined    State = "joined"
	StateOffering  State = "offering"
	StateAnswering State = "answering"
	StateConnected State = "connected"
	StateEnded     State = "ended"
)

// maxPendingCandidates bounds the candidates held for one sender before a
// peer connection exists for it.
const maxPendingCandidates = 64

// ErrNoPeerConnection is returned when an answer arrives with no offer
// outstanding.
var ErrNoPeerConnection = errors.New("no peer connection")

// Signaler delivers messages to the relay.
type Signaler interface {
	Send(msg models.Message) error
}

// PeerConnection is the negotiation engine the sequencer drives.
type PeerConnection interface {
	AddLocalTracks(tracks []webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AddICECandidate must tolerate candidates that arrive before the remote
	// description.
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// Events are the callbacks a PeerConnection raises.
type Events struct {
	OnCandidate func(candidate webrtc.ICECandidateInit)
	OnTrack     func(track *webrtc.TrackRemote)
}

// Dialer creates peer connections.
type Dialer interface {
	Dial(cfg webrtc.Configuration, events Events) (PeerConnection, error)
}

// MediaSource provides the local tracks to send.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
}

// NoMedia is a MediaSource for receive-only clients.
type NoMedia struct{}

func (NoMedia) Tracks() ([]webrtc.TrackLocal, error) { return nil, nil }

type Config struct {
	ICEServers []webrtc.ICEServer
	Dialer     Dialer
	Media      MediaSource

	// OnRemoteTrack and OnStateChange must not call back into the Sequencer.
	OnRemoteTrack func(track *webrtc.TrackRemote)
	OnStateChange func(state State)
}

// Sequencer negotiates with at most one remote peer at a time. While a
// counterpart is active, messages from any other identity are ignored.
type Sequencer struct {
	cfg    Config
	signal Signaler
	log    *logrus.Entry

	mu       sync.Mutex
	state    State
	identity string
	remote   string
	pc       PeerConnection
	tracks   []webrtc.TrackLocal
	hasMedia bool

	// pending holds candidates that arrived, keyed by sender, before there
	// was a peer connection for that sender.
	pending map[string][]webrtc.ICECandidateInit

	// generation invalidates candidate callbacks of torn down connections.
	generation atomic.Uint64
}

func New(signal Signaler, cfg Config) *Sequencer {
	if cfg.Media == nil {
		cfg.Media = NoMedia{}
	}
	return &Sequencer{
		cfg:     cfg,
		signal:  signal,
		state:   StateIdle,
		pending: make(map[string][]webrtc.ICECandidateInit),
		log:     logrus.WithField("component", "sequencer"),
	}
}

// Start announces this client to the room.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.signal.Send(models.Message{Type: models.MessageTypeJoined}); err != nil {
		return errors.Wrap(err, "send joined")
	}
	s.setStateLocked(StateJoined)
	return nil
}

// Handle runs the negotiation step for one relayed message.
func (s *Sequencer) Handle(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return nil
	}

	switch msg.Type {
	case models.MessageTypeReady:
		s.identity = msg.ID
		s.log.WithField("id", msg.ID).Info("Identity assigned")
		return nil
	case models.MessageTypeJoined:
		if !s.acceptsLocked(msg.ID) {
			return nil
		}
		return s.makeCallLocked(msg.ID)
	case models.MessageTypeOffer:
		if !s.acceptsLocked(msg.ID) {
			return nil
		}
		return s.answerCallLocked(msg.ID, msg.Data)
	case models.MessageTypeAnswer:
		if !s.fromRemoteLocked(msg.ID) {
			return nil
		}
		return s.startCallLocked(msg.Data)
	case models.MessageTypeCandidate:
		s.acceptCandidateLocked(msg.ID, msg.Data)
		return nil
	case models.MessageTypeLeft:
		delete(s.pending, msg.ID)
		if !s.fromRemoteLocked(msg.ID) {
			return nil
		}
		s.endCallLocked()
		return nil
	default:
		s.log.WithField("type", msg.Type).Debug("Ignoring message")
		return nil
	}
}

// State returns the current negotiation state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the identity the relay assigned to this client.
func (s *Sequencer) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Remote returns the identity of the active counterpart.
func (s *Sequencer) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Close hangs up and stops reacting to further messages.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.teardownLocked()
	s.remote = ""
	clear(s.pending)
	s.setStateLocked(StateEnded)
	return err
}

func (s *Sequencer) acceptsLocked(from string) bool {
	if s.remote == "" || s.remote == from {
		return true
	}
	s.log.WithFields(logrus.Fields{"from": from, "remote": s.remote}).Warn("Ignoring negotiation from a second peer")
	return false
}

func (s *Sequencer) fromRemoteLocked(from string) bool {
	if s.remote != "" && s.remote == from {
		return true
	}
	s.log.WithField("from", from).Debug("Ignoring message from inactive peer")
	return false
}

func (s *Sequencer) makeCallLocked(from string) error {
	if err := s.connectLocked(); err != nil {
		return err
	}
	s.remote = from
	s.setStateLocked(StateOffering)
	s.flushPendingLocked(from)

	offer, err := s.pc.CreateOffer()
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local offer")
	}
	return s.sendLocked(models.MessageTypeOffer, offer)
}

func (s *Sequencer) answerCallLocked(from string, data json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return errors.Wrap(err, "decode offer")
	}

	if err := s.connectLocked(); err != nil {
		return err
	}
	s.remote = from
	s.setStateLocked(StateAnswering)

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return errors.Wrap(err, "set remote offer")
	}
	s.flushPendingLocked(from)
	answer, err := s.pc.CreateAnswer()
	if err != nil {
		return errors.Wrap(err, "create answer")
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return errors.Wrap(err, "set local answer")
	}
	if err := s.sendLocked(models.MessageTypeAnswer, answer); err != nil {
		return err
	}
	s.setStateLocked(StateConnected)
	return nil
}

func (s *Sequencer) startCallLocked(data json.RawMessage) error {
	if s.pc == nil {
		return ErrNoPeerConnection
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return errors.Wrap(err, "decode answer")
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return errors.Wrap(err, "set remote answer")
	}
	s.setStateLocked(StateConnected)
	return nil
}

// acceptCandidateLocked adds a candidate from the active counterpart. A
// candidate can overtake the offer it belongs to, so candidates from a sender
// with no peer connection yet are held until one exists.
func (s *Sequencer) acceptCandidateLocked(from string, data json.RawMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		s.log.WithError(err).Warn("Error decoding ice candidate")
		return
	}

	if s.remote != "" && s.remote != from {
		s.log.WithField("from", from).Debug("Ignoring candidate from inactive peer")
		return
	}
	if s.remote == "" || s.pc == nil {
		held := s.pending[from]
		if len(held) >= maxPendingCandidates {
			s.log.WithField("from", from).Warn("Dropping candidate, too many held")
			return
		}
		s.pending[from] = append(held, candidate)
		return
	}

	s.addCandidateLocked(candidate)
}

func (s *Sequencer) addCandidateLocked(candidate webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(candidate); err != nil {
		s.log.WithError(err).Warn("Error adding ice candidate")
	}
}

// flushPendingLocked hands the candidates held for from to the new peer
// connection and forgets those of everyone else.
func (s *Sequencer) flushPendingLocked(from string) {
	held := s.pending[from]
	clear(s.pending)
	for _, candidate := range held {
		s.addCandidateLocked(candidate)
	}
}

func (s *Sequencer) endCallLocked() {
	if err := s.teardownLocked(); err != nil {
		s.log.WithError(err).Warn("Error closing peer connection")
	}
	s.log.WithField("remote", s.remote).Info("Peer left")
	s.remote = ""
	s.setStateLocked(StateJoined)
}

// connectLocked replaces the peer connection with a fresh one carrying the
// local media.
func (s *Sequencer) connectLocked() error {
	if err := s.teardownLocked(); err != nil {
		s.log.WithError(err).Warn("Error closing previous peer connection")
	}

	if !s.hasMedia {
		tracks, err := s.cfg.Media.Tracks()
		if err != nil {
			return errors.Wrap(err, "acquire local media")
		}
		s.tracks = tracks
		s.hasMedia = true
	}

	gen := s.generation.Add(1)
	pc, err := s.cfg.Dialer.Dial(webrtc.Configuration{ICEServers: s.cfg.ICEServers}, Events{
		OnCandidate: func(candidate webrtc.ICECandidateInit) {
			if s.generation.Load() != gen {
				return
			}
			msg, err := models.NewMessage(models.MessageTypeCandidate, candidate)
			if err == nil {
				err = s.signal.Send(msg)
			}
			if err != nil {
				s.log.WithError(err).Warn("Failed to send ice candidate")
			}
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			if s.cfg.OnRemoteTrack != nil {
				s.cfg.OnRemoteTrack(track)
			}
		},
	})
	if err != nil {
		return errors.Wrap(err, "create peer connection")
	}
	if err := pc.AddLocalTracks(s.tracks); err != nil {
		pc.Close()
		return errors.Wrap(err, "add local tracks")
	}
	s.pc = pc
	return nil
}

func (s *Sequencer) teardownLocked() error {
	if s.pc == nil {
		return nil
	}
	s.generation.Add(1)
	pc := s.pc
	s.pc = nil
	return pc.Close()
}

func (s *Sequencer) sendLocked(t models.MessageType, data any) error {
	msg, err := models.NewMessage(t, data)
	if err != nil {
		return err
	}
	if err := s.signal.Send(msg); err != nil {
		return errors.Wrapf(err, "send %s", t)
	}
	return nil
}

func (s *Sequencer) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state, "to": state}).Debug("Negotiation state changed")
	s.state = state
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}
