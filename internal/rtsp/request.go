package rtsp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

type Request struct {
	Version  string
	Url      string
	Sequence string
	Method   Method
	Header   http.Header
	Body     []byte
}

// Write serialises the request in a single write so interleaved frames
// never split it on the wire.
func (r *Request) Write(w io.Writer) error {
	buf := &bytes.Buffer{}
	_, err := fmt.Fprintf(buf, "%s %s RTSP/%s\r\n", r.Method, r.Url, r.Version)
	if err != nil {
		return fmt.Errorf("failed to write request line: %w", err)
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}

	r.Header.Set("CSeq", r.Sequence)
	if len(r.Body) > 0 {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	err = r.Header.WriteSubset(buf, nil)
	if err != nil {
		return fmt.Errorf("failed to write request headers: %w", err)
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)

	_, err = w.Write(buf.Bytes())
	return err
}
