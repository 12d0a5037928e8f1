package sequencer

import (
	"errors"
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

type scriptedTrack struct {
	packets int
	end     error
}

func (s *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if s.packets == 0 {
		return nil, nil, s.end
	}
	s.packets--
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(s.packets)}}, nil, nil
}

func TestDrainTrack(t *testing.T) {
	n, err := DrainTrack(&scriptedTrack{packets: 5, end: io.EOF})
	if err != nil || n != 5 {
		t.Fatalf("DrainTrack = %d, %v", n, err)
	}

	broken := errors.New("srtp failure")
	n, err = DrainTrack(&scriptedTrack{packets: 2, end: broken})
	if !errors.Is(err, broken) || n != 2 {
		t.Fatalf("DrainTrack = %d, %v", n, err)
	}
}
