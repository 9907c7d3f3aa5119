package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// SimulatedGateway stands in for a carrier API by waiting a random latency.
type SimulatedGateway struct {
	MinLatency time.Duration
	MaxLatency time.Duration
}

// NewSimulatedGateway returns a gateway that takes between 1 and 2 seconds per message.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{MinLatency: time.Second, MaxLatency: 2 * time.Second}
}

// Transmit waits for the simulated carrier latency or until ctx is done.
func (g *SimulatedGateway) Transmit(ctx context.Context, msg Message) error {
	latency := g.MinLatency
	if spread := g.MaxLatency - g.MinLatency; spread > 0 {
		latency += time.Duration(rand.Int63n(int64(spread)))
	}

	slog.Debug("Simulating SMS carrier latency", "notification_id", msg.ID, "latency", latency)

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HTTPGateway posts messages as JSON to a carrier's HTTP endpoint.
type HTTPGateway struct {
	url        string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway posting to url.
func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transmit sends msg with an HTTP POST and expects a 2xx status.
func (g *HTTPGateway) Transmit(ctx context.Context, msg Message) error {
	if !isValidURL(g.url) {
		return fmt.Errorf("invalid SMS gateway URL: %q (must be a valid HTTP/HTTPS URL)", g.url)
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal SMS payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach SMS gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("SMS gateway returned error status",
			"status_code", resp.StatusCode,
			"notification_id", msg.ID,
		)
		return fmt.Errorf("SMS gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// isValidURL checks if a string is a valid HTTP/HTTPS URL.
func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
