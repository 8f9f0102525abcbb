// Package transport builds the Transport header a camera client sends with
// SETUP and reads back the one the camera answers with.
package transport

import "errors"

// Protocol is the lower transport of an RTP/AVP profile. TCP means the
// media is interleaved on the control connection.
type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

// ErrUnsupportedTransport is returned for any profile other than RTP/AVP.
var ErrUnsupportedTransport = errors.New("unsupported transport")

// Header is a parsed Transport header, one Option per comma separated
// alternative.
type Header interface {
	Options() []Option
}

// Option is a single transport spec such as
// "RTP/AVP/TCP;unicast;interleaved=0-1".
type Option interface {
	IsUnicast() bool
	Protocol() Protocol
	Parameters() []Parameter
	String() string
}

type Parameter interface {
	String() string
}
