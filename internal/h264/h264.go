// Package h264 prepares H.264 video for archiving: codec parameter sets
// from the session description and Annex-B depacketization of RTP.
package h264

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// StartCode prefixes every NAL unit written to an archive segment.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

var ErrNoParameterSets = errors.New("format parameters carry no sprop-parameter-sets")

// ParameterSets extracts SPS and PPS from an fmtp attribute value such as
// "96 packetization-mode=1;sprop-parameter-sets=Z0IA...,aM4...".
func ParameterSets(fmtp string) (sps, pps []byte, err error) {
	if _, params, ok := strings.Cut(fmtp, " "); ok {
		fmtp = params
	}
	for _, param := range strings.Split(fmtp, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "sprop-parameter-sets") {
			continue
		}
		sets := strings.Split(value, ",")
		if len(sets) < 2 {
			return nil, nil, fmt.Errorf("expected SPS and PPS, got %d parameter sets", len(sets))
		}
		sps, err = base64.StdEncoding.DecodeString(sets[0])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode SPS: %w", err)
		}
		pps, err = base64.StdEncoding.DecodeString(sets[1])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode PPS: %w", err)
		}
		return sps, pps, nil
	}
	return nil, nil, ErrNoParameterSets
}

// Priming returns StartCode+SPS+StartCode+PPS, written at the head of every
// segment so it decodes from its first frame.
func Priming(sps, pps []byte) []byte {
	out := make([]byte, 0, 2*len(StartCode)+len(sps)+len(pps))
	out = append(out, StartCode...)
	out = append(out, sps...)
	out = append(out, StartCode...)
	out = append(out, pps...)
	return out
}
