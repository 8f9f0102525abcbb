// Package receiver pulls progressive HTTP camera streams into a writer.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
)

var ErrNotPlaying = errors.New("receiver not playing")

type HTTP struct {
	mu     sync.Mutex
	url    *url.URL
	sink   io.Writer
	client *http.Client
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewHTTP(u *url.URL, sink io.Writer) *HTTP {
	return &HTTP{url: u, sink: sink, client: http.DefaultClient}
}

// Play opens the stream and copies it to the sink until Stop or until the
// camera closes the connection.
func (h *HTTP) Play(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url.String(), nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to build request for %s: %w", h.url.Redacted(), err)
	}
	res, err := h.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stream %s: %w", h.url.Redacted(), err)
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		cancel()
		return fmt.Errorf("camera answered %s", res.Status)
	}

	done := make(chan struct{})
	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		defer res.Body.Close()
		_, err := io.Copy(h.sink, res.Body)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", h.url.Redacted()).Warn("http stream interrupted")
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
		}
	}()
	return nil
}

// Done is closed when the copy ends. It is nil before Play.
func (h *HTTP) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Err returns the fault that ended the stream early, nil after a clean end
// or before Play.
func (h *HTTP) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop ends the copy and waits for it. It returns the fault that ended the
// stream early, if any.
func (h *HTTP) Stop() error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return ErrNotPlaying
	}
	cancel()
	<-done

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
