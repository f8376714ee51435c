package server

import (
	"settings_sync/internal/conflict"
	"settings_sync/internal/dataType"
	"settings_sync/internal/utils"

	"go.uber.org/zap"
)

func (m *SyncManager) onSettingsChanged(in inbound) bool {
	sc := in.payload.(*dataType.SettingsChanged)
	if m.store == nil {
		m.logger.Debug("no settings store, ignoring change", zap.String("key", sc.Key))
		return false
	}

	local, _ := m.store.Get(sc.Key)
	rec := conflict.Detect(conflict.Input{
		Key:             sc.Key,
		Local:           local,
		Remote:          sc.Value,
		RemoteOld:       sc.OldValue,
		RemoteSource:    in.msg.Source,
		RemoteTimestamp: in.msg.Timestamp,
	}, m.now())

	if rec == nil {
		if utils.ValuesEqual(local, sc.Value) {
			return false
		}
		if err := m.store.Set(sc.Key, sc.Value, true); err != nil {
			m.logger.Warn("failed to apply remote change", zap.String("key", sc.Key), zap.Error(err))
			return false
		}
		m.localWrites[sc.Key] = in.msg.Timestamp
		m.emit(dataType.Event{Type: dataType.EventSettingsSynced, PeerID: in.msg.Source, Key: sc.Key, Value: sc.Value})
		return false
	}

	m.emit(dataType.Event{Type: dataType.EventConflictDetected, PeerID: in.msg.Source, Key: sc.Key, Conflict: cloneRecord(rec)})
	m.logger.Info("conflict detected",
		zap.String("conflictId", rec.ID),
		zap.String("key", rec.Key),
		zap.String("source", in.msg.Source))
	m.resolve(rec)
	return false
}

func (m *SyncManager) onSettingsBulkChanged(in inbound) bool {
	b := in.payload.(*dataType.SettingsBulkChanged)
	if m.store == nil {
		m.logger.Debug("no settings store, ignoring bulk change", zap.Int("keys", len(b.Changes)))
		return false
	}
	if len(b.Changes) == 0 {
		return false
	}
	if err := m.store.SetMultiple(b.Changes, true); err != nil {
		m.logger.Warn("failed to apply remote bulk change", zap.Int("keys", len(b.Changes)), zap.Error(err))
		return false
	}
	for k := range b.Changes {
		m.localWrites[k] = in.msg.Timestamp
	}
	m.emit(dataType.Event{Type: dataType.EventSettingsBulkSynced, PeerID: in.msg.Source, Changes: b.Changes})
	return false
}

// resolve applies the configured strategy to a freshly detected conflict.
// A conflict id that was already resolved is not decided again; the local
// value is only realigned with the remembered outcome.
func (m *SyncManager) resolve(rec *dataType.ConflictRecord) {
	if value, done := m.conflicts.Resolved(rec.ID); done {
		if !utils.ValuesEqual(rec.LocalValue, value) {
			if err := m.store.Set(rec.Key, value, true); err != nil {
				m.logger.Warn("failed to realign resolved conflict", zap.String("conflictId", rec.ID), zap.Error(err))
			}
		}
		return
	}
	if _, pending := m.conflicts.Pending(rec.ID); pending {
		return
	}

	now := m.now()
	d := conflict.Decide(rec, m.strategy, conflict.Context{
		IsLeader:       m.isLeader,
		LocalWrittenAt: m.localWrites[rec.Key],
		Now:            now,
		Window:         m.cfg.TimestampWindow,
	})
	rec.ResolvedValue = d.Value
	m.conflicts.Add(rec)

	writtenAt := now
	if !d.KeepLocal {
		writtenAt = rec.RemoteTimestamp
	}
	m.commit(rec, writtenAt, true)
}

// commit writes the decided value of rec through to the store. On failure
// the record stays pending and is retried by the next tick.
func (m *SyncManager) commit(rec *dataType.ConflictRecord, writtenAt int64, broadcast bool) bool {
	if m.store == nil {
		return false
	}
	if err := m.store.Set(rec.Key, rec.ResolvedValue, true); err != nil {
		m.logger.Warn("conflict write-through failed, will retry",
			zap.String("conflictId", rec.ID), zap.String("key", rec.Key), zap.Error(err))
		return false
	}

	now := m.now()
	rec.State = dataType.ConflictResolved
	m.conflicts.MarkResolved(rec.ID, rec.ResolvedValue, now)
	m.localWrites[rec.Key] = writtenAt
	m.emit(dataType.Event{Type: dataType.EventConflictResolved, Key: rec.Key, Value: rec.ResolvedValue, Conflict: cloneRecord(rec)})
	m.logger.Info("conflict resolved",
		zap.String("conflictId", rec.ID),
		zap.String("key", rec.Key),
		zap.String("strategy", rec.Strategy),
		zap.Bool("broadcast", broadcast))

	if broadcast {
		m.publish(dataType.ConflictResolution{
			ConflictID:    rec.ID,
			Key:           rec.Key,
			Strategy:      rec.Strategy,
			ResolvedValue: rec.ResolvedValue,
		})
	}
	return true
}

func (m *SyncManager) onConflictResolution(in inbound) bool {
	cr := in.payload.(*dataType.ConflictResolution)
	if m.store == nil {
		m.logger.Debug("no settings store, ignoring resolution", zap.String("conflictId", cr.ConflictID))
		return false
	}
	if cr.ConflictID == "" || cr.Key == "" {
		m.logger.Warn("dropping resolution without id or key", zap.String("source", in.msg.Source))
		return false
	}
	local, hasLocal := m.store.Get(cr.Key)

	strategy, _ := conflict.ParseStrategy(cr.Strategy)
	if strategy == conflict.LeaderWins && m.isLeader {
		m.arbitrate(cr, in.msg, local, hasLocal)
		return false
	}

	prev, resolved := m.conflicts.Resolved(cr.ConflictID)
	fromLeader := in.msg.Source == m.leaderID
	if resolved && !(fromLeader && !utils.ValuesEqual(prev, cr.ResolvedValue)) {
		return false
	}

	rec := m.pendingOrNew(cr, in.msg, local)
	rec.Strategy = cr.Strategy
	rec.ResolvedValue = cr.ResolvedValue
	if !m.commit(rec, in.msg.Timestamp, false) {
		m.conflicts.Add(rec)
	}
	return false
}

// arbitrate handles a leader-wins resolution while this peer leads. A
// diverging choice is answered with the value this peer settled on, or with
// its own side of the disagreement when the conflict id derives from it.
// A conflict the leader never saw is adopted and announced so followers
// that chose differently realign.
func (m *SyncManager) arbitrate(cr *dataType.ConflictResolution, msg dataType.Message, local any, hasLocal bool) {
	now := m.now()
	if hasLocal && utils.ValuesEqual(local, cr.ResolvedValue) {
		m.conflicts.MarkResolved(cr.ConflictID, local, now)
		return
	}

	value, settled := m.conflicts.Resolved(cr.ConflictID)
	if !settled && hasLocal && utils.ConflictID(cr.Key, local, cr.ResolvedValue) == cr.ConflictID {
		value, settled = local, true
	}
	if settled && utils.ValuesEqual(value, cr.ResolvedValue) {
		return
	}

	rec := m.pendingOrNew(cr, msg, local)
	rec.Strategy = string(conflict.LeaderWins)
	writtenAt := now
	if settled {
		rec.ResolvedValue = value
	} else {
		rec.ResolvedValue = cr.ResolvedValue
		writtenAt = msg.Timestamp
		m.logger.Info("adopting resolution for unseen conflict",
			zap.String("conflictId", cr.ConflictID), zap.String("key", cr.Key), zap.String("source", msg.Source))
	}
	if !m.commit(rec, writtenAt, true) {
		m.conflicts.Add(rec)
	}
}

func (m *SyncManager) pendingOrNew(cr *dataType.ConflictResolution, msg dataType.Message, local any) *dataType.ConflictRecord {
	if rec, ok := m.conflicts.Pending(cr.ConflictID); ok {
		rec.State = dataType.ConflictResolving
		return rec
	}
	return &dataType.ConflictRecord{
		ID:              cr.ConflictID,
		Key:             cr.Key,
		LocalValue:      local,
		RemoteValue:     cr.ResolvedValue,
		Source:          msg.Source,
		RemoteTimestamp: msg.Timestamp,
		CreatedAt:       m.now(),
		State:           dataType.ConflictResolving,
	}
}

// serviceConflicts retries pending write-throughs and drops expired records.
func (m *SyncManager) serviceConflicts(now int64) {
	if m.store != nil {
		for _, snapshot := range m.conflicts.PendingRecords() {
			rec, ok := m.conflicts.Pending(snapshot.ID)
			if !ok || rec.State != dataType.ConflictResolving {
				continue
			}
			m.commit(rec, now, true)
		}
	}
	for _, rec := range m.conflicts.Cleanup(now) {
		m.logger.Debug("dropping unresolved conflict", zap.String("conflictId", rec.ID), zap.String("key", rec.Key))
	}
}

func cloneRecord(rec *dataType.ConflictRecord) *dataType.ConflictRecord {
	c := *rec
	return &c
}
