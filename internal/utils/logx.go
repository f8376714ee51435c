package utils

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogxManager hands out one zap logger per peer. With a base path every peer
// writes info.log, error.log and debug.log under its own directory; without
// one everything goes to stderr.
type LogxManager struct {
	basePath string
	level    zapcore.Level
	loggers  map[string]*zap.Logger
	mu       sync.RWMutex
}

func NewManager(base string, level string) *LogxManager {
	lv, err := zapcore.ParseLevel(level)
	if err != nil {
		log.Printf("unknown log level %q, using info", level)
		lv = zapcore.InfoLevel
	}
	m := &LogxManager{basePath: base, level: lv, loggers: make(map[string]*zap.Logger)}

	if m.basePath != "" {
		if err := os.MkdirAll(m.basePath, 0744); err != nil {
			log.Printf("failed to create base log dir %s: %v", m.basePath, err)
		}
	}
	return m
}

// Logger returns the logger for peer, creating it on first use.
func (m *LogxManager) Logger(peer string) *zap.Logger {
	m.mu.RLock()
	if lg, ok := m.loggers[peer]; ok {
		m.mu.RUnlock()
		return lg
	}
	m.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if lg, ok := m.loggers[peer]; ok {
		return lg
	}

	var lg *zap.Logger
	if m.basePath == "" {
		lg = m.consoleLogger()
	} else {
		lg = m.fileLogger(peer)
	}
	lg = lg.With(zap.String("peer", peer))
	m.loggers[peer] = lg
	return lg
}

func (m *LogxManager) consoleLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), m.level)
	return zap.New(core)
}

func (m *LogxManager) fileLogger(peer string) *zap.Logger {
	dir := filepath.Join(m.basePath, peer)
	if err := os.MkdirAll(dir, 0744); err != nil {
		log.Printf("failed to create log dir %s: %v", dir, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	infoOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "info.log")))
	errorOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "error.log")))
	dbgOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "debug.log")))

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= m.level && l >= zapcore.InfoLevel && l < zapcore.ErrorLevel
	})
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= m.level && l == zapcore.DebugLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, infoOut, infoLv),
		zapcore.NewCore(encoder, errorOut, errLv),
		zapcore.NewCore(encoder, dbgOut, dbgLv),
	)
	return zap.New(tee)
}

func (m *LogxManager) openLogFile(path string) *os.File {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return os.Stdout
	}
	return f
}

// Sync flushes every logger handed out so far.
func (m *LogxManager) Sync() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lg := range m.loggers {
		_ = lg.Sync()
	}
}
