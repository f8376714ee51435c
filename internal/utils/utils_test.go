package utils

import (
	"encoding/json"
	"errors"
	"settings_sync/internal/dataType"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesEqual(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"b":2,"a":[1,"x"]}`), &decoded))

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "same string", a: "red", b: "red", want: true},
		{name: "different string", a: "red", b: "blue", want: false},
		{name: "int vs float", a: int64(3), b: float64(3), want: true},
		{name: "nil vs nil", a: nil, b: nil, want: true},
		{name: "nil vs value", a: nil, b: "red", want: false},
		{name: "map from json", a: map[string]any{"a": []any{1, "x"}, "b": 2}, b: decoded, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestConflictIDIsOrderIndependent(t *testing.T) {
	a := ConflictID("theme.color", "green", "blue")
	b := ConflictID("theme.color", "blue", "green")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ConflictID("theme.font", "green", "blue"))
	assert.NotEqual(t, a, ConflictID("theme.color", "green", "red"))
}

func TestNewPeerIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewPeerID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate peer id %s", id)
		seen[id] = struct{}{}
	}
}

func TestCodecRoundTripUnsigned(t *testing.T) {
	c := NewCodec("")
	msg, err := dataType.NewMessage("peer-a", 100, dataType.LeaderElected{PeerID: "peer-a", RegisteredAt: 1})
	require.NoError(t, err)

	raw, err := c.Encode(msg)
	require.NoError(t, err)
	back, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, back.Type)
	assert.Equal(t, msg.Source, back.Source)
	assert.Empty(t, back.Signature)
}

func TestCodecSignature(t *testing.T) {
	signer := NewCodec("shared-secret")
	msg, err := dataType.NewMessage("peer-a", 100, dataType.Heartbeat{PeerID: "peer-a", Timestamp: 100})
	require.NoError(t, err)

	raw, err := signer.Encode(msg)
	require.NoError(t, err)

	back, err := signer.Decode(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, back.Signature)

	_, err = NewCodec("other-secret").Decode(raw)
	assert.True(t, errors.Is(err, ErrBadSignature))

	unsigned, err := NewCodec("").Encode(msg)
	require.NoError(t, err)
	_, err = signer.Decode(unsigned)
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestCodecRejectsMalformed(t *testing.T) {
	c := NewCodec("")
	for _, raw := range []string{`not json`, `{"type":"heartbeat"}`, `{"source":"a"}`} {
		_, err := c.Decode([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformedMessage), "input %q", raw)
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	assert.Equal(t, start.UnixMilli(), NowMillis(c))
	c.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), c.Now())
}

func TestDescribeUserAgent(t *testing.T) {
	assert.Nil(t, DescribeUserAgent(""))
	md := DescribeUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, md, "userAgent")
	assert.Equal(t, "Chrome", md["browser"])
}

func TestLogxManagerReusesLoggers(t *testing.T) {
	m := NewManager(t.TempDir(), "debug")
	a := m.Logger("peer-a")
	assert.Same(t, a, m.Logger("peer-a"))
	assert.NotSame(t, a, m.Logger("peer-b"))
	a.Info("hello")
	m.Sync()
}
