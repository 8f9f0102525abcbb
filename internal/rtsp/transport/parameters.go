package transport

import (
	"fmt"
	"strconv"
)

type Destination string

func (p Destination) String() string {
	if p == "" {
		return "destination"
	}
	return "destination=" + string(p)
}

type Interleaved []int

func (p Interleaved) String() string {
	return "interleaved=" + portRange(p)
}

type ClientPort []int

func (p ClientPort) String() string {
	return "client_port=" + portRange(p)
}

type ServerPort []int

func (p ServerPort) String() string {
	return "server_port=" + portRange(p)
}

type SSRC string

func (p SSRC) String() string {
	return "ssrc=" + string(p)
}

type Mode string

func (p Mode) String() string {
	return "mode=" + string(p)
}

// Raw keeps parameters this package has no type for, such as source=.
type Raw string

func (p Raw) String() string {
	return string(p)
}

func portRange(p []int) string {
	switch len(p) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(p[0])
	default:
		return fmt.Sprintf("%d-%d", p[0], p[1])
	}
}
