// Package shard owns the per-connection state machine of the gateway
// client: hello, identify-or-resume, heartbeating, reconnect handling,
// member chunking, and the orchestration of many shards over one shared
// cache and identify budget.
package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/coral-im/coral/discord"
	"github.com/coral-im/coral/dispatch"
	"github.com/coral-im/coral/gateway"
	"github.com/coral-im/coral/session"
	"github.com/coral-im/coral/store"
	"github.com/coral-im/coral/transport"
	gatewayws "github.com/coral-im/coral/transport/websocket"
)

// maxConnectAttempts bounds consecutive failed connection attempts
// before the shard gives up. Reaching Ready resets the budget.
const maxConnectAttempts = 5

// dispatchQueueSize bounds the per-shard dispatch queue. The queue
// decouples the read loop from handler latency; events drain in strict
// arrival order through a single consumer.
const dispatchQueueSize = 1024

var (
	errReconnectRequested = errors.New("shard: reconnect requested by service")
	errSessionInvalidated = errors.New("shard: session invalidated")
)

// DialFunc opens one gateway socket. Swappable in tests for an
// in-memory transport.
type DialFunc func(ctx context.Context, url string, compressed bool) (transport.Adapter, error)

// Config carries everything one shard needs. Token, Router and
// GatewayURL are required; the rest has working defaults.
type Config struct {
	Token      string
	Intents    gateway.Intent
	ShardID    int
	ShardCount int
	Presence   *gateway.PresenceUpdate
	Properties gateway.IdentifyProperties

	// GatewayURL is the discovery endpoint; resumes prefer the session's
	// resume URL when one is known.
	GatewayURL string

	// Compress selects transport compression (zlib-stream).
	Compress bool

	Dial   DialFunc
	Gate   *IdentifyGate
	Router *dispatch.Router

	// Resume optionally persists session identity across process
	// restarts. Nil disables persistence.
	Resume store.ResumeStore

	Logger *slog.Logger
}

// Shard drives one gateway connection. Created by the Manager; Run is
// its whole lifecycle.
type Shard struct {
	cfg     Config
	session *session.Session
	chunks  *ChunkCoordinator
	log     *slog.Logger

	adapterMu sync.Mutex
	adapter   transport.Adapter

	gateMu   sync.Mutex
	gateHeld bool

	// hb and readyThisConn belong to the read loop alone.
	hb            *session.Heartbeat
	readyThisConn bool

	queue     chan dispatchJob
	drainDone chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

type dispatchJob struct {
	name string
	data json.RawMessage
}

// New creates a shard. It does not connect; call Run.
func New(cfg Config) (*Shard, error) {
	if cfg.Token == "" {
		return nil, errors.New("shard: token is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("shard: dispatch router is required")
	}
	if cfg.GatewayURL == "" {
		return nil, errors.New("shard: gateway URL is required")
	}
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string, compressed bool) (transport.Adapter, error) {
			return gatewayws.Dial(ctx, url, compressed)
		}
	}
	if cfg.Gate == nil {
		cfg.Gate = NewIdentifyGate(1)
	}
	if cfg.Properties == (gateway.IdentifyProperties{}) {
		cfg.Properties = gateway.DefaultProperties()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Shard{
		cfg:     cfg,
		session: session.New(),
		chunks:  NewChunkCoordinator(),
		log:     log.With("component", "shard", "shard_id", cfg.ShardID),
		queue:     make(chan dispatchJob, dispatchQueueSize),
		drainDone: make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Session exposes the shard's session record, for observability.
func (s *Shard) Session() *session.Session { return s.session }

// WaitUntilReady blocks until the shard reaches Ready for the first
// time, the shard stops, or the context is cancelled.
func (s *Shard) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return errors.New("shard: stopped before becoming ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the shard until the context is cancelled or a fatal error
// stops it. Recoverable failures reconnect in place with a bounded
// attempt budget; the budget refills every time the shard reaches Ready.
func (s *Shard) Run(ctx context.Context) error {
	defer close(s.done)

	s.restoreResume()

	// The drainer must not outlive Run: a fatal stop would otherwise
	// leave it running until the caller's context dies.
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go s.drainDispatch(drainCtx)

	attempts := 0
	for {
		err := s.runConnection(ctx)
		s.persistResume()

		if err == nil || ctx.Err() != nil {
			s.session.Transition(session.StateClosing)
			s.chunks.AbandonAll(context.Canceled)
			return err
		}

		var fatal *gateway.FatalSessionError
		if errors.As(err, &fatal) {
			s.log.Error("fatal gateway close, stopping shard", "code", int(fatal.Code), "reason", fatal.Code.String())
			s.session.Transition(session.StateClosing)
			s.chunks.AbandonAll(err)
			return err
		}

		if s.readyThisConn {
			attempts = 0
		}
		attempts++
		if attempts >= maxConnectAttempts {
			s.session.Transition(session.StateClosing)
			s.chunks.AbandonAll(err)
			return fmt.Errorf("shard: giving up after %d connect attempts: %w", attempts, err)
		}

		s.session.Transition(session.StateReconnecting)
		s.session.RecordReconnect()
		metrics.GetOrCreateCounter(fmt.Sprintf(`coral_shard_reconnects_total{shard="%d"}`, s.cfg.ShardID)).Inc()
		s.log.Warn("reconnecting", "attempt", attempts, "resumable", s.session.Resumable(), "err", err)

		select {
		case <-time.After(time.Duration(attempts) * time.Second):
		case <-ctx.Done():
			s.session.Transition(session.StateClosing)
			s.chunks.AbandonAll(context.Canceled)
			return ctx.Err()
		}
	}
}

// runConnection handles exactly one socket lifetime: dial, hello,
// identify or resume, then the event loop until something ends the
// connection. A nil return means deliberate shutdown.
func (s *Shard) runConnection(ctx context.Context) error {
	s.readyThisConn = false
	s.hb = nil
	s.session.Transition(session.StateConnecting)

	url := s.cfg.GatewayURL
	if s.session.Resumable() && s.session.ResumeURL() != "" {
		url = s.session.ResumeURL()
	}

	adapter, err := s.cfg.Dial(ctx, gateway.BuildURL(url, s.cfg.Compress), s.cfg.Compress)
	if err != nil {
		s.session.Transition(session.StateReconnecting)
		return fmt.Errorf("shard: dial: %w", err)
	}
	s.setAdapter(adapter)
	defer func() {
		s.setAdapter(nil)
		adapter.Close()
		s.releaseGate() // never leak an identify slot across retries
	}()

	s.session.Transition(session.StateAwaitingHello)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbErr := make(chan error, 1)
	idErr := make(chan error, 1)
	incoming := adapter.Receive()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-hbErr:
			if errors.Is(err, context.Canceled) {
				continue
			}
			s.session.Transition(session.StateReconnecting)
			s.chunks.AbandonAll(ErrChunksAbandoned)
			return fmt.Errorf("shard: heartbeat: %w", err)

		case err := <-idErr:
			if errors.Is(err, context.Canceled) {
				continue
			}
			s.session.Transition(session.StateReconnecting)
			return fmt.Errorf("shard: identify: %w", err)

		case ev := <-adapter.Disconnected():
			return s.handleDisconnect(ctx, ev)

		case msg, ok := <-incoming:
			if !ok {
				// read loop exited; the disconnect event says why
				incoming = nil
				continue
			}
			if err := s.handleMessage(connCtx, msg, hbErr, idErr); err != nil {
				return err
			}
		}
	}
}

// handleDisconnect maps a transport-level disconnect to the shard-level
// decision: clean shutdown, recoverable reconnect, or fatal stop. The
// session survives unless the close code says it cannot.
func (s *Shard) handleDisconnect(ctx context.Context, ev transport.DisconnectEvent) error {
	if ev.Reason == transport.ReasonClosedClean || ctx.Err() != nil {
		return nil
	}

	if ev.Reason == transport.ReasonRemoteClose {
		code := gateway.CloseCode(ev.Code)
		if !code.Resumable() {
			s.session.Clear()
			s.deleteResume()
			s.chunks.AbandonAll(ErrChunksAbandoned)
			return &gateway.FatalSessionError{Code: code}
		}
	}

	s.session.Transition(session.StateReconnecting)
	s.chunks.AbandonAll(ErrChunksAbandoned)
	if ev.Err != nil {
		return fmt.Errorf("shard: connection lost: %w", ev.Err)
	}
	return fmt.Errorf("shard: connection lost (reason %d, code %d)", ev.Reason, ev.Code)
}

// handleMessage is the control-plane switch. Only the read loop calls it.
func (s *Shard) handleMessage(ctx context.Context, msg transport.Message, hbErr, idErr chan error) error {
	switch gateway.Op(msg.Op) {
	case gateway.OpHello:
		var hello gateway.Hello
		if err := json.Unmarshal(msg.Data, &hello); err != nil {
			return fmt.Errorf("shard: malformed hello: %w", err)
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		s.hb = session.NewHeartbeat(interval, s.sendHeartbeat)
		hb := s.hb
		go func() { hbErr <- hb.Run(ctx) }()

		if s.session.Resumable() {
			s.session.Transition(session.StateResuming)
			metrics.GetOrCreateCounter(fmt.Sprintf(`coral_shard_resumes_total{shard="%d"}`, s.cfg.ShardID)).Inc()
			return s.sendResume(ctx)
		}
		s.session.Transition(session.StateIdentifying)
		go s.identify(ctx, idErr)

	case gateway.OpHeartbeat:
		// the service may demand an immediate beat at any time
		return s.sendHeartbeat(ctx)

	case gateway.OpHeartbeatACK:
		if s.hb != nil {
			s.hb.Ack()
		}

	case gateway.OpReconnect:
		s.session.Transition(session.StateReconnecting)
		s.chunks.AbandonAll(ErrChunksAbandoned)
		return errReconnectRequested

	case gateway.OpInvalidSession:
		// payload bool: can this session be resumed?
		var resumable bool
		_ = json.Unmarshal(msg.Data, &resumable)
		if !resumable {
			s.session.Clear()
			s.deleteResume()
		}
		s.session.Transition(session.StateReconnecting)
		s.chunks.AbandonAll(ErrChunksAbandoned)
		return fmt.Errorf("%w (resumable=%t)", errSessionInvalidated, resumable)

	case gateway.OpDispatch:
		s.handleDispatch(ctx, msg)
	}
	return nil
}

// handleDispatch records the sequence, consumes the control-plane READY
// and RESUMED events, and queues everything else for the sequential
// dispatch executor.
func (s *Shard) handleDispatch(ctx context.Context, msg transport.Message) {
	if msg.Seq != nil {
		s.session.UpdateSequence(*msg.Seq)
	}

	switch msg.Event {
	case "READY":
		var ready discord.Ready
		if err := json.Unmarshal(msg.Data, &ready); err != nil {
			s.log.Error("malformed READY", "err", err)
			return
		}
		s.session.MarkIdentified(ready.SessionID, ready.ResumeGatewayURL)
		s.releaseGate()
		s.session.Transition(session.StateReady)
		s.markReady()
		s.persistResume()
		s.log.Info("shard ready", "session_id", ready.SessionID, "guilds", len(ready.Guilds))

	case "RESUMED":
		s.session.Transition(session.StateReady)
		s.markReady()
		s.log.Info("shard resumed", "session_id", s.session.ID())

	case "GUILD_MEMBERS_CHUNK":
		var chunk discord.GuildMembersChunk
		if err := json.Unmarshal(msg.Data, &chunk); err == nil {
			s.chunks.HandleChunk(&chunk)
		}
		s.enqueue(ctx, msg) // the router still upserts the members

	default:
		s.enqueue(ctx, msg)
	}
}

func (s *Shard) enqueue(ctx context.Context, msg transport.Message) {
	select {
	case s.queue <- dispatchJob{name: msg.Event, data: msg.Data}:
	case <-ctx.Done():
	}
}

// drainDispatch is the per-shard sequential executor: one consumer
// draining the queue preserves events-received order into the cache
// while keeping handler latency off the read loop.
func (s *Shard) drainDispatch(ctx context.Context) {
	defer close(s.drainDone)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.cfg.Router.Dispatch(s.cfg.ShardID, job.name, job.data)
		}
	}
}

// identify waits for an identify slot and sends the handshake. Runs off
// the read loop so gate queueing never blocks message handling; the slot
// is released when READY arrives or the connection dies.
func (s *Shard) identify(ctx context.Context, idErr chan error) {
	if err := s.cfg.Gate.Acquire(ctx); err != nil {
		idErr <- err
		return
	}
	s.holdGate()

	shardPair := [2]int{s.cfg.ShardID, s.cfg.ShardCount}
	env := gateway.Envelope{Op: gateway.OpIdentify, D: gateway.Identify{
		Token:      s.cfg.Token,
		Properties: s.cfg.Properties,
		Shard:      &shardPair,
		Presence:   s.cfg.Presence,
		Intents:    s.cfg.Intents,
	}}
	if err := s.sendEnvelope(ctx, env); err != nil {
		s.releaseGate()
		idErr <- err
		return
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`coral_shard_identifies_total{shard="%d"}`, s.cfg.ShardID)).Inc()
}

func (s *Shard) sendResume(ctx context.Context) error {
	seq, _ := s.session.Sequence()
	env := gateway.Envelope{Op: gateway.OpResume, D: gateway.Resume{
		Token:     s.cfg.Token,
		SessionID: s.session.ID(),
		Seq:       seq,
	}}
	return s.sendEnvelope(ctx, env)
}

func (s *Shard) sendHeartbeat(ctx context.Context) error {
	seq, seen := s.session.Sequence()
	if err := s.sendEnvelope(ctx, gateway.HeartbeatEnvelope(seq, seen)); err != nil {
		return err
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`coral_shard_heartbeats_total{shard="%d"}`, s.cfg.ShardID)).Inc()
	return nil
}

// RequestGuildMembers sends an op-8 member listing request and returns a
// waiter for its multi-part response. An empty nonce gets a generated
// one. The waiter fails with ErrChunksAbandoned if the shard reconnects
// before the listing completes.
func (s *Shard) RequestGuildMembers(ctx context.Context, req gateway.RequestGuildMembers) (*ChunkWaiter, error) {
	if req.Nonce == "" {
		nonce, err := newNonce()
		if err != nil {
			return nil, err
		}
		req.Nonce = nonce
	}
	if req.UserIDs == nil && req.Query == nil {
		empty := ""
		req.Query = &empty // empty query + limit 0 means "everyone"
	}

	w, err := s.chunks.Register(req.Nonce, req.GuildID)
	if err != nil {
		return nil, err
	}
	if err := s.sendEnvelope(ctx, gateway.Envelope{Op: gateway.OpRequestGuildMembers, D: req}); err != nil {
		s.chunks.Unregister(req.Nonce)
		return nil, err
	}
	return w, nil
}

// UpdatePresence sends an op-3 presence update on the live connection.
// The change lasts for the session; set Config.Presence to carry one
// across reconnects.
func (s *Shard) UpdatePresence(ctx context.Context, p gateway.PresenceUpdate) error {
	return s.sendEnvelope(ctx, gateway.Envelope{Op: gateway.OpPresenceUpdate, D: p})
}

// sendEnvelope is the single outbound entry point. All application
// sends funnel through here; the adapter serializes the actual writes.
func (s *Shard) sendEnvelope(ctx context.Context, env gateway.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("shard: encode op %d: %w", int(env.Op), err)
	}
	adapter := s.currentAdapter()
	if adapter == nil {
		return transport.ErrTransportClosed
	}
	return adapter.Send(ctx, data)
}

func (s *Shard) setAdapter(a transport.Adapter) {
	s.adapterMu.Lock()
	s.adapter = a
	s.adapterMu.Unlock()
}

func (s *Shard) currentAdapter() transport.Adapter {
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	return s.adapter
}

func (s *Shard) holdGate() {
	s.gateMu.Lock()
	s.gateHeld = true
	s.gateMu.Unlock()
}

func (s *Shard) releaseGate() {
	s.gateMu.Lock()
	if s.gateHeld {
		s.gateHeld = false
		s.cfg.Gate.Release()
	}
	s.gateMu.Unlock()
}

func (s *Shard) markReady() {
	s.readyThisConn = true
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Shard) restoreResume() {
	if s.cfg.Resume == nil {
		return
	}
	r, ok, err := s.cfg.Resume.Load(s.cfg.ShardID)
	if err != nil {
		s.log.Warn("failed to load persisted session", "err", err)
		return
	}
	if ok {
		s.session.Restore(r)
		s.log.Info("restored persisted session", "session_id", r.SessionID, "seq", r.Sequence)
	}
}

func (s *Shard) persistResume() {
	if s.cfg.Resume == nil {
		return
	}
	snap := s.session.Snapshot()
	if snap.SessionID == "" {
		return
	}
	if err := s.cfg.Resume.Save(s.cfg.ShardID, snap); err != nil {
		s.log.Warn("failed to persist session", "err", err)
	}
}

func (s *Shard) deleteResume() {
	if s.cfg.Resume == nil {
		return
	}
	if err := s.cfg.Resume.Delete(s.cfg.ShardID); err != nil {
		s.log.Warn("failed to delete persisted session", "err", err)
	}
}
