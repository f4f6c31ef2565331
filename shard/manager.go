package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coral-im/coral/cache"
	"github.com/coral-im/coral/dispatch"
	"github.com/coral-im/coral/gateway"
	"github.com/coral-im/coral/store"
)

// eventBufferSize bounds the shared application event channel. A slow
// consumer backpressures the shards' dispatch queues, not the sockets.
const eventBufferSize = 1024

// ManagerConfig configures a multi-shard client. Token and Discovery
// are required.
type ManagerConfig struct {
	Token    string
	Intents  gateway.Intent
	Presence *gateway.PresenceUpdate

	// ShardIDs selects which shards this process runs; empty means all
	// of ShardCount. ShardCount zero means "use the discovered count".
	ShardIDs   []int
	ShardCount int

	// MaxConcurrency overrides the discovered identify concurrency when
	// positive.
	MaxConcurrency int

	Discovery   gateway.DiscoveryFunc
	CachePolicy *cache.Policy
	Compress    bool
	Properties  gateway.IdentifyProperties

	// Dial is swappable for tests. Nil means the websocket transport.
	Dial DialFunc

	// Resume optionally persists per-shard session identity.
	Resume store.ResumeStore

	Logger *slog.Logger
}

// Manager runs a set of shards over one cache, one dispatch router, one
// identify gate and one application event channel.
type Manager struct {
	cfg    ManagerConfig
	log    *slog.Logger
	cache  *cache.Cache
	events chan dispatch.Event

	mu     sync.Mutex
	shards map[int]*Shard
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   []error
}

// NewManager validates the configuration. Connect does the work.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Token == "" {
		return nil, errors.New("shard: token is required")
	}
	if cfg.Discovery == nil {
		return nil, errors.New("shard: discovery function is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	policy := cache.DefaultPolicy()
	if cfg.CachePolicy != nil {
		policy = *cfg.CachePolicy
	}
	return &Manager{
		cfg:    cfg,
		log:    log,
		cache:  cache.New(policy),
		events: make(chan dispatch.Event, eventBufferSize),
		shards: make(map[int]*Shard),
	}, nil
}

// Connect resolves the gateway endpoint and starts every configured
// shard. It returns once the shards are launched; use WaitUntilReady to
// block for the initial handshakes.
func (m *Manager) Connect(ctx context.Context) error {
	info, err := m.cfg.Discovery(ctx)
	if err != nil {
		return fmt.Errorf("shard: gateway discovery: %w", err)
	}

	count := m.cfg.ShardCount
	if count < 1 {
		count = info.Shards
	}
	if count < 1 {
		count = 1
	}
	ids := m.cfg.ShardIDs
	if len(ids) == 0 {
		ids = make([]int, count)
		for i := range ids {
			ids[i] = i
		}
	}
	for _, id := range ids {
		if id < 0 || id >= count {
			return fmt.Errorf("shard: id %d out of range for count %d", id, count)
		}
	}

	concurrency := info.SessionStartLimit.MaxConcurrency
	if m.cfg.MaxConcurrency > 0 {
		concurrency = m.cfg.MaxConcurrency
	}
	gate := NewIdentifyGate(concurrency)
	router := dispatch.NewRouter(m.cache, m.events, m.log)

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		cancel()
		return errors.New("shard: manager already connected")
	}
	m.cancel = cancel

	m.log.Info("starting shards", "count", len(ids), "total", count, "max_concurrency", gate.Capacity(), "url", info.URL)

	for _, id := range ids {
		s, err := New(Config{
			Token:      m.cfg.Token,
			Intents:    m.cfg.Intents,
			ShardID:    id,
			ShardCount: count,
			Presence:   m.cfg.Presence,
			Properties: m.cfg.Properties,
			GatewayURL: info.URL,
			Compress:   m.cfg.Compress,
			Dial:       m.cfg.Dial,
			Gate:       gate,
			Router:     router,
			Resume:     m.cfg.Resume,
			Logger:     m.log,
		})
		if err != nil {
			cancel()
			m.cancel = nil
			return err
		}
		m.shards[id] = s

		m.wg.Add(1)
		go func(s *Shard) {
			defer m.wg.Done()
			if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error("shard stopped", "shard_id", s.cfg.ShardID, "err", err)
				m.mu.Lock()
				m.errs = append(m.errs, err)
				m.mu.Unlock()
			}
		}(s)
	}
	return nil
}

// WaitUntilReady blocks until every running shard has reached Ready once,
// or the context is cancelled.
func (m *Manager) WaitUntilReady(ctx context.Context) error {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	for _, s := range shards {
		if err := s.WaitUntilReady(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Events is the application's read side: cache mutations normalized into
// before/after tuples, in per-shard arrival order.
func (m *Manager) Events() <-chan dispatch.Event { return m.events }

// Cache exposes the shared entity cache.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// Shard returns the shard with the given id, if this manager runs it.
func (m *Manager) Shard(id int) (*Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[id]
	return s, ok
}

// RequestGuildMembers routes an op-8 member listing to the shard that
// owns the guild and returns the waiter for its chunked response.
func (m *Manager) RequestGuildMembers(ctx context.Context, req gateway.RequestGuildMembers) (*ChunkWaiter, error) {
	m.mu.Lock()
	var count int
	for _, s := range m.shards {
		count = s.cfg.ShardCount
		break
	}
	if count < 1 {
		m.mu.Unlock()
		return nil, errors.New("shard: manager is not connected")
	}
	id := int((uint64(req.GuildID) >> 22) % uint64(count))
	s, ok := m.shards[id]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("shard: guild %s belongs to shard %d, which this manager does not run", req.GuildID, id)
	}
	return s.RequestGuildMembers(ctx, req)
}

// UpdatePresence sends an op-3 presence update on every running shard.
func (m *Manager) UpdatePresence(ctx context.Context, p gateway.PresenceUpdate) error {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range shards {
		if err := s.UpdatePresence(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", s.cfg.ShardID, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every shard, waits for them, and closes the event channel.
// Persisted sessions survive so a restart can resume.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	m.wg.Wait()
	close(m.events)

	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}
