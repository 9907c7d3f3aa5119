package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot holds the metrics of one worker process.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesMalformed uint64 `json:"messages_malformed"`
	DeadLettered      uint64 `json:"dead_lettered"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	MessagesPerSecond      float64 `json:"messages_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	// Per-channel counters keyed "<channel>_<outcome>", e.g. "email_sent".
	ChannelCounters map[string]uint64 `json:"channel_counters,omitempty"`
}

// StatusSetter is the subset of the Redis client used to publish snapshots.
type StatusSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Collector counts dispatch events and periodically writes a Snapshot to Redis.
type Collector struct {
	serviceName    string
	redis          StatusSetter
	startedAt      time.Time
	reportInterval time.Duration

	received     atomic.Uint64
	processed    atomic.Uint64
	malformed    atomic.Uint64
	deadLettered atomic.Uint64
	errors       atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	// guarded by reportMu
	reportMu           sync.Mutex
	lastReportTime     time.Time
	lastProcessedCount uint64

	channelMu       sync.RWMutex
	channelCounters map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector reporting under serviceName. A nil client disables reporting.
func NewCollector(serviceName string, client StatusSetter) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:     serviceName,
		redis:           client,
		startedAt:       now,
		reportInterval:  DefaultReportInterval,
		lastReportTime:  now,
		channelCounters: make(map[string]*atomic.Uint64),
		stopCh:          make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis. Call before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins the periodic metrics reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.Flush(context.Background())
				return
			case <-c.stopCh:
				c.Flush(context.Background())
				return
			case <-ticker.C:
				c.Flush(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop after a final write.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) RecordReceived()  { c.received.Add(1) }
func (c *Collector) RecordMalformed() { c.malformed.Add(1) }
func (c *Collector) RecordError()     { c.errors.Add(1) }

func (c *Collector) RecordDeadLettered() { c.deadLettered.Add(1) }

func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

func (c *Collector) RecordSent(channel string)     { c.channelCounter(channel + "_sent").Add(1) }
func (c *Collector) RecordRejected(channel string) { c.channelCounter(channel + "_rejected").Add(1) }
func (c *Collector) RecordFailed(channel string)   { c.channelCounter(channel + "_failed").Add(1) }

func (c *Collector) channelCounter(name string) *atomic.Uint64 {
	c.channelMu.RLock()
	counter, ok := c.channelCounters[name]
	c.channelMu.RUnlock()
	if ok {
		return counter
	}

	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	if counter, ok = c.channelCounters[name]; !ok {
		counter = &atomic.Uint64{}
		c.channelCounters[name] = counter
	}
	return counter
}

// Snapshot returns current metrics without writing to Redis.
func (c *Collector) Snapshot() *Snapshot {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.reportMu.Lock()
	elapsed := now.Sub(c.lastReportTime).Seconds()
	last := c.lastProcessedCount
	c.reportMu.Unlock()

	var rate float64
	if elapsed > 0 {
		rate = float64(processed-last) / elapsed
	}

	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.channelMu.RLock()
	channels := make(map[string]uint64, len(c.channelCounters))
	for name, counter := range c.channelCounters {
		channels[name] = counter.Load()
	}
	c.channelMu.RUnlock()

	return &Snapshot{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		MessagesReceived:       c.received.Load(),
		MessagesProcessed:      processed,
		MessagesMalformed:      c.malformed.Load(),
		DeadLettered:           c.deadLettered.Load(),
		ProcessingErrors:       c.errors.Load(),
		MessagesPerSecond:      rate,
		AvgProcessingLatencyNs: avgLatencyNs,
		ChannelCounters:        channels,
	}
}

// Flush writes the current snapshot to Redis under KeyPrefix+serviceName.
func (c *Collector) Flush(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.Snapshot()

	c.reportMu.Lock()
	c.lastReportTime = snap.LastUpdated
	c.lastProcessedCount = snap.MessagesProcessed
	c.reportMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}
