package rtsp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence string
	Header   http.Header
	Body     []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Code >= 200 && r.Code < 300
}

// Session returns the session identifier without its timeout suffix.
func (r *Response) Session() string {
	return strings.TrimSpace(strings.Split(r.Header.Get("Session"), ";")[0])
}

func parseStatusLine(line string) (version string, code int, message string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("malformed status line %q", line)
	}
	proto := strings.Split(parts[0], "/")
	if len(proto) != 2 || proto[0] != "RTSP" {
		return "", 0, "", fmt.Errorf("malformed protocol version %q", parts[0])
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to parse response code: %w", err)
	}
	if len(parts) == 3 {
		message = parts[2]
	}
	return proto[1], code, message, nil
}
