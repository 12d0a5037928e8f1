package sequencer

import (
	"io"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RTPReader is the read side of a remote track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// DrainTrack reads packets from track until it ends so pion's receive
// buffers never fill up. It returns the number of packets read; the end of
// the track is not an error.
func DrainTrack(track RTPReader) (int, error) {
	packets := 0
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if err == io.EOF {
				return packets, nil
			}
			return packets, err
		}
		packets++
	}
}

var _ RTPReader = (*webrtc.TrackRemote)(nil)
