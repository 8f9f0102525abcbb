package transport

import "strings"

type option struct {
	unicast  bool
	protocol Protocol
	params   []Parameter
}

// New builds a unicast transport option for a SETUP request.
func New(protocol Protocol, params ...Parameter) Option {
	return &option{unicast: true, protocol: protocol, params: params}
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

func (o *option) String() string {
	segments := []string{"RTP/AVP"}
	if o.protocol == ProtocolTCP {
		segments[0] += "/TCP"
	}
	if o.unicast {
		segments = append(segments, "unicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}

// InterleavedChannels returns the channel pair of the first option that
// carries one.
func InterleavedChannels(h Header) (Interleaved, bool) {
	for _, o := range h.Options() {
		for _, p := range o.Parameters() {
			if il, ok := p.(Interleaved); ok {
				return il, true
			}
		}
	}
	return nil, false
}

type header struct {
	options []Option
}

func (h *header) Options() []Option {
	return h.options
}
