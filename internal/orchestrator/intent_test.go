package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
)

// startTestNATSServer starts an embedded NATS server on a random port.
func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	return ns
}

func TestNATSIntentsPublish(t *testing.T) {
	ns := startTestNATSServer(t)
	defer ns.Shutdown()

	cfg := config.NATSConfig{
		Enabled: true,
		URL:     ns.ClientURL(),
		Subject: "confluence.intents.paper",
	}
	pub, err := NewNATSIntents(cfg)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("confluence.intents.paper", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	price := 430.25
	intent := &PaperIntent{
		LedgerEntryID:   "entry-1",
		Symbol:          "SPY",
		Direction:       contextstore.DirectionLong,
		SizeMultiplier:  1.16,
		ConfidenceScore: 92.0,
		EntryPrice:      &price,
		EngineVersion:   "2.1.0",
	}
	require.NoError(t, pub.Publish(context.Background(), intent))

	select {
	case msg := <-received:
		var got PaperIntent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "entry-1", got.LedgerEntryID)
		assert.Equal(t, "SPY", got.Symbol)
		assert.Equal(t, contextstore.DirectionLong, got.Direction)
		assert.Equal(t, 1.16, got.SizeMultiplier)
		assert.NotEmpty(t, got.ID, "publish assigns an id")
		assert.False(t, got.Timestamp.IsZero(), "publish stamps a timestamp")
	case <-time.After(2 * time.Second):
		t.Fatal("intent not delivered")
	}
}

func TestNATSIntentsPublishCancelledContext(t *testing.T) {
	ns := startTestNATSServer(t)
	defer ns.Shutdown()

	pub, err := NewNATSIntents(config.NATSConfig{URL: ns.ClientURL(), Subject: "confluence.intents.paper"})
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.Publish(ctx, &PaperIntent{Symbol: "SPY"})
	assert.Error(t, err)
}

func TestNopIntents(t *testing.T) {
	var pub NopIntents
	assert.NoError(t, pub.Publish(context.Background(), &PaperIntent{Symbol: "SPY"}))
	pub.Close()
}
