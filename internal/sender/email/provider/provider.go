// Package provider defines the email transport interface and registry.
// Each provider is a way to hand a built email to a mail transport (SMTP, SES, Resend).
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// EmailRequest represents an email to be sent.
type EmailRequest struct {
	NotificationID string
	From           string
	To             []string
	Subject        string
	Body           string // Plain text body
}

// Provider is the interface that all email providers must implement.
type Provider interface {
	// Name returns the provider name (e.g., "smtp", "ses", "resend")
	Name() string

	// Send sends an email using this provider.
	Send(ctx context.Context, req *EmailRequest) error

	// IsConfigured returns true if the provider is properly configured.
	IsConfigured() bool
}

// Registry holds the email providers and picks which ones to try, in order:
// the primary, then the fallbacks, then any other provider by registration order.
// Providers that are not configured are never tried.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	primary   string
	fallback  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	slog.Info("Registered email provider", "name", name, "configured", p.IsConfigured())
}

// SetPrimary selects the provider tried first.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the providers tried after the primary, in order.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	r.fallback = append([]string(nil), names...)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// GetPrimary returns the first provider Send would try.
func (r *Registry) GetPrimary() (Provider, error) {
	candidates := r.candidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no configured email provider available")
	}
	if name := candidates[0].Name(); name != r.primaryName() {
		slog.Warn("Primary email provider not configured", "primary", r.primaryName(), "using", name)
	}
	return candidates[0], nil
}

// Send tries each candidate provider until one accepts req.
// If all fail the errors are joined, the first attempt's error first.
func (r *Registry) Send(ctx context.Context, req *EmailRequest) error {
	candidates := r.candidates()
	if len(candidates) == 0 {
		return fmt.Errorf("no configured email provider available")
	}

	var errs []error
	for i, p := range candidates {
		if i > 0 {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("Email provider failed, trying next",
				"failed", candidates[i-1].Name(),
				"next", p.Name(),
				"notification_id", req.NotificationID,
				"error", errs[len(errs)-1],
			)
		}
		err := p.Send(ctx, req)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return errors.Join(errs...)
}

// List returns all registered provider names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) primaryName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

func (r *Registry) candidates() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, 1+len(r.fallback)+len(r.order))
	if r.primary != "" {
		names = append(names, r.primary)
	}
	names = append(names, r.fallback...)
	names = append(names, r.order...)

	seen := make(map[string]bool, len(names))
	var out []Provider
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if p := r.providers[name]; p != nil && p.IsConfigured() {
			out = append(out, p)
		}
	}
	return out
}

// checkRequest rejects sends on an unconfigured provider or without recipients.
func checkRequest(name string, configured bool, req *EmailRequest) error {
	if !configured {
		return fmt.Errorf("%s: provider not configured", name)
	}
	if len(req.To) == 0 {
		return fmt.Errorf("%s: no recipients specified", name)
	}
	return nil
}
