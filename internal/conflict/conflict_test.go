package conflict

import (
	"testing"
	"time"

	"settings_sync/internal/dataType"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		conflict bool
	}{
		{name: "already agree", in: Input{Key: "k", Local: "red", Remote: "red", RemoteOld: nil}},
		{name: "catching up", in: Input{Key: "k", Local: "red", Remote: "blue", RemoteOld: "red"}},
		{name: "unset locally, new remote", in: Input{Key: "k", Local: nil, Remote: "red", RemoteOld: nil}},
		{name: "all three differ", in: Input{Key: "k", Local: "green", Remote: "blue", RemoteOld: "red"}, conflict: true},
		{name: "unset locally, remote had a value", in: Input{Key: "k", Local: nil, Remote: "blue", RemoteOld: "red"}, conflict: true},
		{name: "numbers compare by value", in: Input{Key: "k", Local: int64(4), Remote: float64(4), RemoteOld: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Detect(tt.in, 100)
			if !tt.conflict {
				assert.Nil(t, rec)
				return
			}
			require.NotNil(t, rec)
			assert.Equal(t, dataType.ConflictConflicting, rec.State)
			assert.Equal(t, tt.in.Key, rec.Key)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, int64(100), rec.CreatedAt)
		})
	}
}

// Two peers holding each other's value detect the same conflict id.
func TestDetectSharedConflictID(t *testing.T) {
	onA := Detect(Input{Key: "theme.color", Local: "green", Remote: "blue", RemoteOld: "red"}, 0)
	onB := Detect(Input{Key: "theme.color", Local: "blue", Remote: "green", RemoteOld: "red"}, 0)
	require.NotNil(t, onA)
	require.NotNil(t, onB)
	assert.Equal(t, onA.ID, onB.ID)
}

func TestDecide(t *testing.T) {
	newRec := func(remoteTS int64) *dataType.ConflictRecord {
		return &dataType.ConflictRecord{ID: "c", Key: "k", LocalValue: "L", RemoteValue: "V", RemoteTimestamp: remoteTS}
	}
	window := 2 * time.Second

	tests := []struct {
		name     string
		strategy Strategy
		remoteTS int64
		ctx      Context
		want     any
	}{
		{name: "local-wins", strategy: LocalWins, want: "L"},
		{name: "remote-wins", strategy: RemoteWins, want: "V"},
		{name: "leader-wins as leader", strategy: LeaderWins, ctx: Context{IsLeader: true}, want: "L"},
		{name: "leader-wins as follower", strategy: LeaderWins, ctx: Context{IsLeader: false}, want: "V"},
		{name: "timestamp newer remote", strategy: TimestampWins, remoteTS: 10_000, ctx: Context{LocalWrittenAt: 9_000, Now: 10_500, Window: window}, want: "V"},
		{name: "timestamp newer local", strategy: TimestampWins, remoteTS: 10_000, ctx: Context{LocalWrittenAt: 10_200, Now: 10_500, Window: window}, want: "L"},
		{name: "timestamp remote outside window", strategy: TimestampWins, remoteTS: 1_000, ctx: Context{LocalWrittenAt: 0, Now: 10_000, Window: window}, want: "L"},
		{name: "unknown strategy", strategy: Strategy("coin-flip"), want: "V"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRec(tt.remoteTS)
			d := Decide(rec, tt.strategy, tt.ctx)
			assert.Equal(t, tt.want, d.Value)
			assert.Equal(t, d.Value == "L", d.KeepLocal)
			assert.Equal(t, dataType.ConflictResolving, rec.State)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, ok := ParseStrategy("")
	assert.True(t, ok)
	assert.Equal(t, LeaderWins, s)

	s, ok = ParseStrategy("timestamp-wins")
	assert.True(t, ok)
	assert.Equal(t, TimestampWins, s)

	s, ok = ParseStrategy("majority-wins")
	assert.False(t, ok)
	assert.Equal(t, RemoteWins, s)
}
