package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/coral-im/coral/discord"
	"github.com/coral-im/coral/gateway"
)

func testDiscovery(url string, shards, concurrency int) gateway.DiscoveryFunc {
	return gateway.StaticDiscovery(gateway.Info{
		URL:    url,
		Shards: shards,
		SessionStartLimit: gateway.SessionStartLimit{
			Total: 1000, Remaining: 1000, MaxConcurrency: concurrency,
		},
	})
}

// TestManagerValidation checks the required-field errors.
func TestManagerValidation(t *testing.T) {
	if _, err := NewManager(ManagerConfig{Discovery: testDiscovery("wss://x", 1, 1)}); err == nil {
		t.Error("missing token should be rejected")
	}
	if _, err := NewManager(ManagerConfig{Token: "tok"}); err == nil {
		t.Error("missing discovery should be rejected")
	}
}

// TestManagerRejectsOutOfRangeShardIDs checks Connect validates the
// shard selection against the count.
func TestManagerRejectsOutOfRangeShardIDs(t *testing.T) {
	gw := newFakeGateway()
	mgr, err := NewManager(ManagerConfig{
		Token:      "tok",
		Discovery:  testDiscovery("wss://gateway.example", 2, 1),
		ShardIDs:   []int{0, 5},
		ShardCount: 2,
		Dial:       gw.dial,
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if err := mgr.Connect(context.Background()); err == nil {
		t.Error("shard id 5 of count 2 should be rejected")
	}
}

// TestManagerRunsAllShardsAndRoutesChunks brings up a two-shard client
// and checks guild-to-shard routing of member requests.
func TestManagerRunsAllShardsAndRoutesChunks(t *testing.T) {
	gw := newFakeGateway()
	mgr, err := NewManager(ManagerConfig{
		Token:          "tok",
		Discovery:      testDiscovery("wss://gateway.example", 2, 2),
		MaxConcurrency: 2,
		Dial:           gw.dial,
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer mgr.Close()

	// both shards dial concurrently; identify order is the gate's business
	byShard := make(map[int]*fakeAdapter, 2)
	for i := 0; i < 2; i++ {
		a := gw.accept(t)
		a.hello()
		d := expectOp(t, a, gateway.OpIdentify)
		pair := d["shard"].([]any)
		id := int(pair[0].(float64))
		byShard[id] = a
		a.push(0, "READY", 1, fmt.Sprintf(`{
			"v": 10,
			"session_id": "sess-%d",
			"resume_gateway_url": "wss://resume.example",
			"guilds": []
		}`, id))
	}
	if len(byShard) != 2 {
		t.Fatalf("expected shards 0 and 1 to identify, got %v", byShard)
	}

	if err := mgr.WaitUntilReady(ctx); err != nil {
		t.Fatalf("manager never became ready: %v", err)
	}

	// guild id with high bits 5: 5 % 2 routes to shard 1
	guildID := discord.Snowflake(5 << 22)
	if _, err := mgr.RequestGuildMembers(ctx, gateway.RequestGuildMembers{GuildID: guildID}); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	d := expectOp(t, byShard[1], gateway.OpRequestGuildMembers)
	var got discord.Snowflake
	if raw, err := json.Marshal(d["guild_id"]); err == nil {
		json.Unmarshal(raw, &got)
	}
	if got != guildID {
		t.Errorf("wrong guild in routed request: %s", got)
	}
}

// TestManagerCloseIsIdempotent checks double close does not panic or
// hang.
func TestManagerCloseIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	mgr, err := NewManager(ManagerConfig{
		Token:     "tok",
		Discovery: testDiscovery("wss://gateway.example", 1, 1),
		Dial:      gw.dial,
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	gw.accept(t) // let the shard dial, no handshake needed

	if err := mgr.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
