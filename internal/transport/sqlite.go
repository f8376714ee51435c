package transport

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"settings_sync/internal/utils"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

type SQLiteConfig struct {
	Path         string
	Channel      string
	PeerID       string
	PollInterval time.Duration
	// RecordTTL bounds how long a record stays in the shared file.
	RecordTTL   time.Duration
	BusyTimeout time.Duration
	WriteBuffer int
}

func (c *SQLiteConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = 10 * time.Second
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 256
	}
}

// SQLite is the fallback transport: every message becomes a short-lived row
// in a database file shared by all peers on the host. Peers poll for rows
// newer than the last one they saw and prune rows older than RecordTTL.
type SQLite struct {
	cfg    SQLiteConfig
	db     *sql.DB
	logger *zap.Logger

	writes chan []byte
	stop   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	handlers handlerList
	lastID   int64
	closed   bool
}

func OpenSQLite(cfg SQLiteConfig, logger *zap.Logger) (*SQLite, error) {
	cfg.applyDefaults()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback store %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{
		cfg:    cfg,
		db:     db,
		logger: logger.Named("sqlite"),
		writes: make(chan []byte, cfg.WriteBuffer),
		stop:   make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	// only messages published after we joined are of interest
	if err := db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM sync_records`).Scan(&s.lastID); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read fallback cursor: %w", err)
	}

	s.wg.Add(2)
	go s.writeLoop()
	go s.pollLoop()
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_key TEXT NOT NULL UNIQUE,
			channel TEXT NOT NULL,
			source TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_records_created ON sync_records(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create fallback schema: %w", err)
	}
	return nil
}

// Publish hands raw to the writer goroutine without waiting for the insert.
func (s *SQLite) Publish(raw []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case s.writes <- append([]byte(nil), raw...):
		return nil
	default:
		return ErrUnavailable
	}
}

func (s *SQLite) Subscribe(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers.add(h)
}

func (s *SQLite) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLite) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case raw := <-s.writes:
			if err := s.insert(raw); err != nil {
				s.logger.Error("failed to write fallback record", zap.Error(err))
			}
		}
	}
}

func (s *SQLite) insert(raw []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BusyTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_records (record_key, channel, source, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		utils.NewRecordKey(s.cfg.PeerID), s.cfg.Channel, s.cfg.PeerID, snappy.Encode(nil, raw), time.Now().UnixMilli())
	return err
}

func (s *SQLite) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.PollOnce(context.Background()); err != nil {
				s.logger.Warn("fallback poll failed", zap.Error(err))
			}
		}
	}
}

// PollOnce delivers the records other peers added since the last poll and
// prunes expired ones. It returns the number of records delivered.
func (s *SQLite) PollOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	after := s.lastID
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, payload FROM sync_records WHERE id > ? AND channel = ? ORDER BY id LIMIT 500`,
		after, s.cfg.Channel)
	if err != nil {
		return 0, fmt.Errorf("query fallback records: %w", err)
	}

	type record struct {
		payload []byte
	}
	var fresh []record
	maxID := after
	for rows.Next() {
		var (
			id      int64
			source  string
			payload []byte
		)
		if err := rows.Scan(&id, &source, &payload); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan fallback record: %w", err)
		}
		maxID = max(maxID, id)
		if source == s.cfg.PeerID {
			continue
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			s.logger.Warn("dropping undecodable fallback record", zap.Int64("id", id), zap.Error(err))
			continue
		}
		fresh = append(fresh, record{payload: raw})
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastID = maxID
	handlers := s.handlers.snapshot()
	s.mu.Unlock()

	for _, r := range fresh {
		for _, h := range handlers {
			h(r.payload)
		}
	}

	cutoff := time.Now().Add(-s.cfg.RecordTTL).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_records WHERE created_at < ?`, cutoff); err != nil {
		return len(fresh), fmt.Errorf("prune fallback records: %w", err)
	}
	return len(fresh), nil
}

// RecordCount returns the number of records currently stored.
func (s *SQLite) RecordCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_records`).Scan(&n)
	return n, err
}
