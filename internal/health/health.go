// Package health confirms a (re)started service is serving by polling an
// optional URL. A timeout is a warning for callers, never a fatal error.
package health

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultMaxSeconds bounds the probe loop for lifecycle operations.
const DefaultMaxSeconds = 30

// Poller issues lightweight HTTP probes at one-second intervals.
type Poller struct {
	Client   *http.Client
	Interval time.Duration
}

// NewPoller builds a poller with a short per-probe timeout.
func NewPoller() *Poller {
	return &Poller{
		Client:   &http.Client{Timeout: 2 * time.Second},
		Interval: time.Second,
	}
}

// Poll probes url once per interval until a 2xx response or the ceiling.
// The ceiling is wall-clock: slow probes eat into it rather than stretching
// it. The returned error is the timeout report; nil means the service
// answered.
func (p *Poller) Poll(url string, maxSeconds int) error {
	if url == "" {
		return nil
	}
	interval := p.Interval
	if interval == 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(time.Duration(maxSeconds) * time.Second)
	for {
		resp, err := p.Client.Get(url)
		if err == nil {
			ok := resp.StatusCode >= 200 && resp.StatusCode < 300
			resp.Body.Close()
			if ok {
				return nil
			}
		}
		if !time.Now().Add(interval).Before(deadline) {
			return fmt.Errorf("no healthy response from %s after %ds", url, maxSeconds)
		}
		time.Sleep(interval)
	}
}
