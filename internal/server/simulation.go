package server

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"settings_sync/internal/config"
	"settings_sync/internal/dataType"
	"settings_sync/internal/settings"
	"settings_sync/internal/transport"
	"settings_sync/internal/utils"

	"go.uber.org/zap"
)

type SimOptions struct {
	Config *config.MainConfig
	Peers  int
	Rounds int
	// Loss is the probability that one delivery is dropped while the
	// simulation is lossy.
	Loss float64
	// CrashLeader kills the leader without a goodbye halfway through.
	CrashLeader bool
	// WritesPerRound is the number of random setting writes per round.
	WritesPerRound int
	Seed           int64
	Logger         *zap.Logger
}

type SimPeer struct {
	ID       string
	Alive    bool
	Leader   string
	IsLeader bool
	Peers    int
}

type SimReport struct {
	Peers          []SimPeer
	Crashed        string
	Delivered      int
	Leader         string
	Converged      bool
	KeysTotal      int
	KeysAgreed     int
	ConflictEvents int
}

// Simulate runs opts.Peers managers on an in-memory bus driven by a virtual
// clock. After opts.Rounds lossy heartbeat rounds the loss stops and the
// peers get one liveness timeout to settle; the report says whether every
// surviving peer then agrees on membership and leadership.
func Simulate(opts SimOptions) (SimReport, error) {
	if opts.Peers < 1 {
		return SimReport{}, fmt.Errorf("need at least one peer")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	clock := utils.NewManualClock(time.UnixMilli(1_000_000))
	bus := transport.NewManualBus()

	lossy := true
	bus.SetDropFunc(func(from, to string, raw []byte) bool {
		return lossy && rng.Float64() < opts.Loss
	})

	type simPeer struct {
		m     *SyncManager
		tr    *transport.MemoryTransport
		store *settings.MemoryStore
		alive bool
	}
	peers := make([]*simPeer, 0, opts.Peers)
	report := SimReport{}

	tick := func() {
		clock.Advance(cfg.HeartbeatInterval)
		for _, p := range peers {
			if p.alive {
				p.m.Tick()
			}
		}
		report.Delivered += bus.Flush()
	}

	for i := 0; i < opts.Peers; i++ {
		id := fmt.Sprintf("peer-%02d", i)
		tr := bus.Join(cfg.ChannelName, id)
		store := settings.NewMemoryStore()
		m, err := NewSyncManager(Options{
			Config:      cfg,
			PeerID:      id,
			Transport:   tr,
			Store:       store,
			Clock:       clock,
			Logger:      opts.Logger.With(zap.String("peer", id)),
			EventBuffer: 1 << 16,
		})
		if err != nil {
			return SimReport{}, err
		}
		tr.Subscribe(m.HandleMessage)
		store.OnChange(m.OnLocalChange)
		m.Startup()
		peers = append(peers, &simPeer{m: m, tr: tr, store: store, alive: true})

		clock.Advance(time.Duration(rng.Int63n(int64(cfg.HeartbeatInterval))))
		report.Delivered += bus.Flush()
	}

	keys := []string{"theme.color", "editor.fontSize", "layout.sidebar"}
	for round := 0; round < opts.Rounds; round++ {
		if opts.CrashLeader && round == opts.Rounds/2 {
			for _, p := range peers {
				if p.alive && p.m.IsLeader() {
					p.alive = false
					_ = p.tr.Shutdown()
					report.Crashed = p.m.ID()
					break
				}
			}
		}
		for w := 0; w < opts.WritesPerRound; w++ {
			p := peers[rng.Intn(len(peers))]
			if !p.alive {
				continue
			}
			key := keys[rng.Intn(len(keys))]
			_ = p.store.Set(key, fmt.Sprintf("v%d", rng.Intn(1000)), false)
		}
		tick()
	}

	lossy = false
	settle := int(cfg.PeerTimeout/cfg.HeartbeatInterval) + 2
	for i := 0; i < settle; i++ {
		tick()
	}

	alive := 0
	for _, p := range peers {
		if p.alive {
			alive++
		}
	}
	report.Converged = true
	for _, p := range peers {
		sp := SimPeer{ID: p.m.ID(), Alive: p.alive}
		if p.alive {
			sp.Leader = p.m.LeaderID()
			sp.IsLeader = p.m.IsLeader()
			sp.Peers = len(p.m.Peers())
			if report.Leader == "" {
				report.Leader = sp.Leader
			}
			if sp.Leader != report.Leader || sp.Peers != alive {
				report.Converged = false
			}
		}
		report.ConflictEvents += drainConflictEvents(p.m)
		report.Peers = append(report.Peers, sp)
	}
	leaders := 0
	for _, sp := range report.Peers {
		if sp.IsLeader {
			leaders++
		}
	}
	if leaders != 1 {
		report.Converged = false
	}

	for _, key := range keys {
		values := map[string]struct{}{}
		seen := false
		for _, p := range peers {
			if !p.alive {
				continue
			}
			v, ok := p.store.Get(key)
			if ok {
				seen = true
			}
			values[fmt.Sprint(v)] = struct{}{}
		}
		if !seen {
			continue
		}
		report.KeysTotal++
		if len(values) == 1 {
			report.KeysAgreed++
		}
	}

	sort.Slice(report.Peers, func(i, j int) bool { return report.Peers[i].ID < report.Peers[j].ID })
	return report, nil
}

func drainConflictEvents(m *SyncManager) int {
	n := 0
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == dataType.EventConflictDetected {
				n++
			}
		default:
			return n
		}
	}
}
