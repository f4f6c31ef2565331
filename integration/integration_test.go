// Package integration exercises the full client stack against a fake
// gateway service speaking real websockets: discovery, hello, identify,
// dispatch, transport compression, and resume after a service-initiated
// reconnect.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"nhooyr.io/websocket"

	"github.com/coral-im/coral/discord"
	"github.com/coral-im/coral/gateway"
	"github.com/coral-im/coral/shard"
)

// conn wraps one accepted service-side connection. All reads and writes
// happen on the handler goroutine, so no locking is needed.
type conn struct {
	t    *testing.T
	ws   *websocket.Conn
	ctx  context.Context
	zw   *zlib.Writer
	zbuf *bytes.Buffer
}

// send writes one service → client message, compressed when the
// connection negotiated zlib-stream.
func (c *conn) send(op int, event string, seq uint64, d string) {
	c.t.Helper()
	payload := fmt.Sprintf(`{"op":%d,"d":%s`, op, d)
	if event != "" {
		payload += fmt.Sprintf(`,"t":%q,"s":%d`, event, seq)
	}
	payload += "}"

	if c.zw == nil {
		if err := c.ws.Write(c.ctx, websocket.MessageText, []byte(payload)); err != nil {
			c.t.Errorf("service write failed: %v", err)
		}
		return
	}
	c.zbuf.Reset()
	c.zw.Write([]byte(payload))
	c.zw.Flush()
	if err := c.ws.Write(c.ctx, websocket.MessageBinary, c.zbuf.Bytes()); err != nil {
		c.t.Errorf("service compressed write failed: %v", err)
	}
}

// expect reads client messages until one with the wanted op arrives.
// Heartbeats are acknowledged along the way, the way the service would.
func (c *conn) expect(op int) map[string]any {
	c.t.Helper()
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.t.Fatalf("service read failed waiting for op %d: %v", op, err)
		}
		var env struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			c.t.Fatalf("client sent malformed payload: %s", data)
		}
		if env.Op == 1 {
			c.send(11, "", 0, "null")
			if op != 1 {
				continue
			}
		}
		if env.Op != op {
			c.t.Fatalf("expected client op %d, got %d: %s", op, env.Op, data)
		}
		var d map[string]any
		json.Unmarshal(env.D, &d)
		return d
	}
}

// serveHeartbeats keeps acknowledging until the connection dies.
func (c *conn) serveHeartbeats() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		var env struct {
			Op int `json:"op"`
		}
		if json.Unmarshal(data, &env) == nil && env.Op == 1 {
			c.send(11, "", 0, "null")
		}
	}
}

// startService runs a fake gateway endpoint; handler is invoked per
// accepted connection with a 1-based connection number.
func startService(t *testing.T, handler func(n int64, c *conn)) string {
	t.Helper()
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		ws.SetReadLimit(1 << 20)

		c := &conn{t: t, ws: ws, ctx: r.Context()}
		if strings.Contains(r.URL.RawQuery, "compress=zlib-stream") {
			c.zbuf = &bytes.Buffer{}
			c.zw = zlib.NewWriter(c.zbuf)
		}
		handler(conns.Add(1), c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newManager(t *testing.T, url string, compress bool) *shard.Manager {
	t.Helper()
	mgr, err := shard.NewManager(shard.ManagerConfig{
		Token:    "tok",
		Intents:  gateway.IntentGuilds,
		Compress: compress,
		Discovery: gateway.StaticDiscovery(gateway.Info{
			URL:    url,
			Shards: 1,
			SessionStartLimit: gateway.SessionStartLimit{
				Total: 1000, Remaining: 1000, MaxConcurrency: 1,
			},
		}),
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return mgr
}

const readyPayload = `{
	"v": 10,
	"session_id": "sess-1",
	"resume_gateway_url": "%s",
	"guilds": [{"id": "100", "unavailable": true}]
}`

// TestClientLifecycle drives the whole happy path over a real socket:
// discovery, hello, identify, READY, one dispatch into the cache and out
// to the application, then a clean shutdown.
func TestClientLifecycle(t *testing.T) {
	lifecycle(t, false)
}

// TestClientLifecycleCompressed is the same path in zlib-stream mode.
func TestClientLifecycleCompressed(t *testing.T) {
	lifecycle(t, true)
}

func lifecycle(t *testing.T, compress bool) {
	var url string
	url = startService(t, func(n int64, c *conn) {
		c.send(10, "", 0, `{"heartbeat_interval":45000}`)

		d := c.expect(2)
		if d["token"] != "tok" {
			t.Errorf("identify missing token: %v", d)
		}

		c.send(0, "READY", 1, fmt.Sprintf(readyPayload, url))
		c.send(0, "GUILD_CREATE", 2, `{
			"id": "100",
			"name": "integration guild",
			"channels": [{"id": "200", "type": 0}]
		}`)
		c.serveHeartbeats()
	})

	mgr := newManager(t, url, compress)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := mgr.WaitUntilReady(ctx); err != nil {
		t.Fatalf("client never became ready: %v", err)
	}

	select {
	case ev := <-mgr.Events():
		if ev.Name != "GUILD_CREATE" {
			t.Fatalf("expected GUILD_CREATE, got %s", ev.Name)
		}
		g := ev.New.(*discord.Guild)
		if g.Name != "integration guild" {
			t.Errorf("unexpected guild: %+v", g)
		}
	case <-ctx.Done():
		t.Fatal("dispatch never reached the application")
	}

	if g, ok := mgr.Cache().Guild(100); !ok || g.Name != "integration guild" {
		t.Error("dispatched guild not cached")
	}
	if _, ok := mgr.Cache().Channel(200); !ok {
		t.Error("nested channel not indexed")
	}

	if err := mgr.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

// TestResumeAfterServiceReconnect checks the continuity path end to end:
// the service drops the connection with a resumable code and the client
// re-attaches with op 6 instead of identifying again.
func TestResumeAfterServiceReconnect(t *testing.T) {
	resumed := make(chan map[string]any, 1)

	var url string
	url = startService(t, func(n int64, c *conn) {
		c.send(10, "", 0, `{"heartbeat_interval":45000}`)

		switch n {
		case 1:
			c.expect(2)
			c.send(0, "READY", 5, fmt.Sprintf(readyPayload, url))
			c.ws.Close(websocket.StatusCode(4000), "service restarting")
		default:
			d := c.expect(6)
			resumed <- d
			c.send(0, "RESUMED", 6, `{}`)
			c.serveHeartbeats()
		}
	})

	mgr := newManager(t, url, false)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := mgr.WaitUntilReady(ctx); err != nil {
		t.Fatalf("client never became ready: %v", err)
	}

	select {
	case d := <-resumed:
		if d["session_id"] != "sess-1" {
			t.Errorf("resume should carry the READY session id, got %v", d)
		}
		if d["seq"].(float64) != 5 {
			t.Errorf("resume should replay from sequence 5, got %v", d["seq"])
		}
	case <-ctx.Done():
		t.Fatal("client never resumed")
	}

	if err := mgr.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}
