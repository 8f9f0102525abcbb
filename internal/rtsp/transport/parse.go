package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parse reads the options of a Transport header value. Several options may be
// given in one value separated by commas.
func Parse(values ...string) (Header, error) {
	var opts []Option
	for _, value := range values {
		for _, option := range strings.Split(value, ",") {
			o, err := parseOption(strings.TrimSpace(option))
			if err != nil {
				return nil, err
			}
			opts = append(opts, o)
		}
	}
	if len(opts) == 0 {
		return nil, errors.New("empty transport header")
	}

	return &header{options: opts}, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{}
	switch strings.ToUpper(parts[0]) {
	case "RTP/AVP", "RTP/AVP/UDP":
		opt.protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		opt.protocol = ProtocolTCP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, parts[0])
	}

	for _, part := range parts[1:] {
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "unicast":
			opt.unicast = true
		case "multicast", "":
			continue
		case "destination":
			opt.params = append(opt.params, Destination(value))
		case "interleaved", "client_port", "server_port":
			if !hasValue {
				return nil, fmt.Errorf("malformed parameter %s expected at least one value", key)
			}
			values, err := parseRange(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", key, err)
			}
			switch key {
			case "interleaved":
				opt.params = append(opt.params, Interleaved(values))
			case "client_port":
				opt.params = append(opt.params, ClientPort(values))
			default:
				opt.params = append(opt.params, ServerPort(values))
			}
		case "ssrc":
			opt.params = append(opt.params, SSRC(value))
		case "mode":
			opt.params = append(opt.params, Mode(strings.Trim(value, `"`)))
		default:
			opt.params = append(opt.params, Raw(part))
		}
	}
	return opt, nil
}

func parseRange(in string) ([]int, error) {
	var out []int
	for _, s := range strings.Split(in, "-") {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("received %s: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}
