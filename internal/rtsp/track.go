package rtsp

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

type Track struct {
	Media   string
	Control string
	RTPMap  string
	// Fmtp is the raw format parameter block, empty when absent.
	Fmtp string
}

// FirstTrack returns the first media description of the given type. A
// missing track or one without a control attribute is ErrTrackMissing.
func FirstTrack(desc *sdp.SessionDescription, media string) (*Track, error) {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != media {
			continue
		}
		control, ok := md.Attribute("control")
		if !ok {
			return nil, fmt.Errorf("%w: %s track has no control attribute", ErrTrackMissing, media)
		}
		rtpmap, _ := md.Attribute("rtpmap")
		fmtp, _ := md.Attribute("fmtp")
		return &Track{
			Media:   media,
			Control: control,
			RTPMap:  rtpmap,
			Fmtp:    fmtp,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTrackMissing, media)
}
