package server

import (
	"context"
	"testing"
	"time"

	"settings_sync/internal/dataType"
	"settings_sync/internal/settings"
	"settings_sync/internal/transport"
	"settings_sync/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type runningNode struct {
	node   *Node
	store  *settings.MemoryStore
	ticker *ManualTicker
	cancel context.CancelFunc
}

func startNode(t *testing.T, bus *transport.Bus, clock utils.Clock, id string) *runningNode {
	t.Helper()
	cfg := testConfig()
	store := settings.NewMemoryStore()
	m, err := NewSyncManager(Options{
		Config:    cfg,
		PeerID:    id,
		Transport: bus.Join(cfg.ChannelName, id),
		Store:     store,
		Clock:     clock,
		Logger:    zaptest.NewLogger(t).Named(id),
	})
	require.NoError(t, err)

	ticker := NewManualTicker()
	node := NewNode(m, func(time.Duration) Ticker { return ticker })
	store.OnChange(node.OnLocalChange)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-node.Done()
	})
	return &runningNode{node: node, store: store, ticker: ticker, cancel: cancel}
}

func (r *runningNode) peerCount(t *testing.T) int {
	var n int
	require.NoError(t, r.node.Do(func(m *SyncManager) { n = len(m.Peers()) }))
	return n
}

func TestNodesDiscoverAndSync(t *testing.T) {
	bus := transport.NewBus()
	clock := utils.NewManualClock(epoch)
	a := startNode(t, bus, clock, "a")
	require.Eventually(t, func() bool { return a.peerCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)
	b := startNode(t, bus, clock, "b")

	require.Eventually(t, func() bool {
		return a.peerCount(t) == 2 && b.peerCount(t) == 2
	}, 2*time.Second, 5*time.Millisecond)

	var leader string
	require.NoError(t, b.node.Do(func(m *SyncManager) { leader = m.LeaderID() }))
	assert.Equal(t, "a", leader)

	require.NoError(t, a.store.Set("editor.fontSize", float64(14), false))
	require.Eventually(t, func() bool {
		v, _ := b.store.Get("editor.fontSize")
		return v == float64(14)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNodeEvictsSilentPeerOnTick(t *testing.T) {
	bus := transport.NewBus()
	clock := utils.NewManualClock(epoch)
	a := startNode(t, bus, clock, "a")
	require.Eventually(t, func() bool { return a.peerCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)

	// a peer that says hello once and is never heard from again
	ghost := bus.Join(testConfig().ChannelName, "ghost")
	msg, err := dataType.NewMessage("ghost", utils.NowMillis(clock), dataType.Heartbeat{
		PeerID: "ghost", RegisteredAt: utils.NowMillis(clock),
	})
	require.NoError(t, err)
	raw, err := utils.NewCodec("").Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ghost.Publish(raw))
	require.Eventually(t, func() bool { return a.peerCount(t) == 2 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(testConfig().PeerTimeout + time.Second)
	require.True(t, a.ticker.Fire())

	assert.Equal(t, 1, a.peerCount(t))
	var leader string
	require.NoError(t, a.node.Do(func(m *SyncManager) { leader = m.LeaderID() }))
	assert.Equal(t, "a", leader)
}

func TestNodeShutdownAnnouncesDeparture(t *testing.T) {
	bus := transport.NewBus()
	clock := utils.NewManualClock(epoch)
	a := startNode(t, bus, clock, "a")
	require.Eventually(t, func() bool { return a.peerCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)
	b := startNode(t, bus, clock, "b")
	require.Eventually(t, func() bool { return a.peerCount(t) == 2 }, 2*time.Second, 5*time.Millisecond)

	b.cancel()
	<-b.node.Done()
	assert.ErrorIs(t, b.node.Do(func(*SyncManager) {}), ErrNodeStopped)
	assert.False(t, b.ticker.Fire())

	require.Eventually(t, func() bool { return a.peerCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNodeRunTwice(t *testing.T) {
	bus := transport.NewBus()
	a := startNode(t, bus, utils.NewManualClock(epoch), "a")
	require.Eventually(t, func() bool { return a.peerCount(t) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Error(t, a.node.Run(context.Background()))
}
