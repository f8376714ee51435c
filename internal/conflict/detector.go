package conflict

import (
	"time"

	"settings_sync/internal/dataType"
	"settings_sync/internal/utils"
)

// Input is one remote write of a key together with the local view of it.
type Input struct {
	Key             string
	Local           any // nil when the key is unset locally
	Remote          any
	RemoteOld       any
	RemoteSource    string
	RemoteTimestamp int64
}

// Detect returns nil when the remote write is in agreement with the local
// value or is a continuation of it (local equals the remote's new or old
// value). Otherwise it returns a record in the Conflicting state.
//
// Only one previous value is compared, so three or more writers disagreeing
// within one window are seen as a series of two-way conflicts.
func Detect(in Input, now int64) *dataType.ConflictRecord {
	if utils.ValuesEqual(in.Local, in.Remote) || utils.ValuesEqual(in.Local, in.RemoteOld) {
		return nil
	}
	return &dataType.ConflictRecord{
		ID:              utils.ConflictID(in.Key, in.Local, in.Remote),
		Key:             in.Key,
		LocalValue:      in.Local,
		RemoteValue:     in.Remote,
		RemoteOldValue:  in.RemoteOld,
		Source:          in.RemoteSource,
		RemoteTimestamp: in.RemoteTimestamp,
		CreatedAt:       now,
		State:           dataType.ConflictConflicting,
	}
}

// Decision is the outcome of applying a strategy to a conflict.
type Decision struct {
	Strategy  Strategy
	Value     any
	KeepLocal bool
}

// Context is the local state a strategy may consult.
type Context struct {
	IsLeader       bool
	LocalWrittenAt int64 // unix ms of the last local write of the key, 0 if unknown
	Now            int64
	Window         time.Duration
}

// Decide applies strategy to rec. The record is moved to Resolving.
func Decide(rec *dataType.ConflictRecord, strategy Strategy, ctx Context) Decision {
	rec.State = dataType.ConflictResolving
	rec.Strategy = string(strategy)

	keep := Decision{Strategy: strategy, Value: rec.LocalValue, KeepLocal: true}
	adopt := Decision{Strategy: strategy, Value: rec.RemoteValue}

	switch strategy {
	case LocalWins:
		return keep
	case RemoteWins:
		return adopt
	case LeaderWins:
		if ctx.IsLeader {
			return keep
		}
		return adopt
	case TimestampWins:
		window := ctx.Window.Milliseconds()
		remoteRecent := ctx.Now-rec.RemoteTimestamp <= window
		if remoteRecent && rec.RemoteTimestamp > ctx.LocalWrittenAt {
			return adopt
		}
		return keep
	default:
		adopt.Strategy = RemoteWins
		return adopt
	}
}
