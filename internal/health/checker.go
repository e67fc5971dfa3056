package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the health of one dependency.
type Status struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   string
}

// LatencyProbe measures a dependency and returns round-trip latency in
// milliseconds, or a negative value when unreachable.
type LatencyProbe func() int64

// Checker periodically probes the RPC endpoint and the local detection
// webhook, logging transitions.
type Checker struct {
	mu       sync.RWMutex
	statuses []Status

	rpcProbe   LatencyProbe
	webhookURL string
}

// NewChecker creates a health checker. rpcProbe is typically
// (*blockchain.RPCClient).LatencyMs; webhookURL may be empty.
func NewChecker(rpcProbe LatencyProbe, webhookURL string) *Checker {
	return &Checker{rpcProbe: rpcProbe, webhookURL: webhookURL}
}

// Start begins periodic checks until the context is cancelled.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check()
			}
		}
	}()

	c.check()
}

func (c *Checker) check() {
	var statuses []Status

	if c.rpcProbe != nil {
		latencyMs := c.rpcProbe()
		s := Status{Name: "rpc", Healthy: latencyMs >= 0, Latency: time.Duration(latencyMs) * time.Millisecond}
		if latencyMs < 0 {
			s.Error = "unreachable"
		}
		statuses = append(statuses, s)
	}

	if c.webhookURL != "" {
		statuses = append(statuses, c.checkHTTP("webhook", c.webhookURL+"/health"))
	}

	c.mu.Lock()
	prev := c.statuses
	c.statuses = statuses
	c.mu.Unlock()

	for i, s := range statuses {
		wasHealthy := i >= len(prev) || prev[i].Healthy
		if s.Healthy != wasHealthy {
			if s.Healthy {
				log.Info().Str("component", s.Name).Msg("dependency recovered")
			} else {
				log.Warn().Str("component", s.Name).Str("err", s.Error).Msg("dependency unhealthy")
			}
		}
	}
}

func (c *Checker) checkHTTP(name, url string) Status {
	start := time.Now()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	latency := time.Since(start)

	status := Status{Name: name, Latency: latency, Healthy: err == nil}
	if err != nil {
		status.Error = err.Error()
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			status.Healthy = false
			status.Error = resp.Status
		}
	}
	return status
}

// Statuses returns the latest probe results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses
}
