package h264

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Depacketizer accepts one RTP packet per Write and writes the Annex-B NAL
// units it carries to the underlying writer. Fragmented units are held until
// their last fragment arrives.
type Depacketizer struct {
	mu     sync.Mutex
	w      io.Writer
	packet codecs.H264Packet
	last   uint16
	seen   bool
	lost   uint64
}

func NewDepacketizer(w io.Writer) *Depacketizer {
	return &Depacketizer{w: w}
}

func (d *Depacketizer) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	packet := &rtp.Packet{}
	err := packet.Unmarshal(p)
	if err != nil {
		return 0, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}

	if d.seen && packet.SequenceNumber != d.last+1 {
		d.lost++
	}
	d.last = packet.SequenceNumber
	d.seen = true

	nalus, err := d.packet.Unmarshal(packet.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to depacketize H264 payload: %w", err)
	}
	if len(nalus) > 0 {
		_, err = d.w.Write(nalus)
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Lost returns the number of sequence gaps seen so far.
func (d *Depacketizer) Lost() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}
