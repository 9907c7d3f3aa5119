package processor

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/anirbanroydas/alertman/internal/notification"
)

// recordingSender records every notification it is asked to send.
type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (r *recordingSender) Send(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

// fixedValidator returns a fixed verdict and counts calls.
type fixedValidator struct {
	accept bool
	calls  int
}

func (f *fixedValidator) Validate(context.Context, AlertRequest) bool {
	f.calls++
	return f.accept
}

// fakeSets is a test fake for SetChecker.
type fakeSets struct {
	members map[string]map[string]bool
	err     error
	keys    []string
}

func (f *fakeSets) SIsMember(_ context.Context, key string, member interface{}) *redis.BoolCmd {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	m, _ := member.(string)
	return redis.NewBoolResult(f.members[key][m], nil)
}
