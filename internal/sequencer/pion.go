package sequencer

import (
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PionDialer creates peer connections backed by pion.
type PionDialer struct {
	api *webrtc.API
}

// NewPionDialer builds a pion API with the default codecs. A nil
// loggerFactory keeps pion's own logger.
func NewPionDialer(loggerFactory logging.LoggerFactory) (*PionDialer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	settingEngine := webrtc.SettingEngine{}
	if loggerFactory != nil {
		settingEngine.LoggerFactory = loggerFactory
	}

	return &PionDialer{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)),
	}, nil
}

func (d *PionDialer) Dial(cfg webrtc.Configuration, events Events) (PeerConnection, error) {
	pc, err := d.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	p := &pionPeer{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || events.OnCandidate == nil {
			return
		}
		events.OnCandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnTrack != nil {
			events.OnTrack(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithField("state", state.String()).Debug("Peer connection state changed")
	})

	return p, nil
}

// pionPeer buffers remote candidates until a remote description is set,
// since pion rejects them before that.
type pionPeer struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (p *pionPeer) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return errors.Wrapf(err, "add %s transceiver", kind)
			}
		}
		return nil
	}

	for _, track := range tracks {
		if _, err := p.pc.AddTrack(track); err != nil {
			return errors.Wrapf(err, "add track %s", track.ID())
		}
	}
	return nil
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			logrus.WithError(err).Warn("Error adding buffered ice candidate")
		}
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
