package localdisc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/AnishMulay/sandreplay/internal/log_service"
)

type Options struct {
	LogDir     string
	NodeID     string
	MinLevel   string
	MaxSizeMB  int
	MaxBackups int
}

// LocalDiscLogService writes JSON lines to <LogDir>/<NodeID>.log, rotated by size.
type LocalDiscLogService struct {
	nodeID        string
	mu            sync.Mutex
	logger        *zap.Logger
	rotator       *lumberjack.Logger
	minLevel      int
	filterEnabled bool
}

func NewLocalDiscLogService(opts Options) (*LocalDiscLogService, error) {
	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.LogDir, fmt.Sprintf("%s.log", opts.NodeID)),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Level filtering happens in shouldLog so SetMinLogLevel can change it at runtime.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.DebugLevel,
	)

	service := &LocalDiscLogService{
		nodeID:        opts.NodeID,
		logger:        zap.New(core).Named(opts.NodeID),
		rotator:       rotator,
		filterEnabled: true,
		minLevel:      log_service.DebugLevelValue,
	}

	if opts.MinLevel != "" {
		service.SetMinLogLevel(opts.MinLevel)
	}

	return service, nil
}

func (ls *LocalDiscLogService) SetMinLogLevel(level string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.minLevel = log_service.GetLevelValue(level)
	ls.filterEnabled = true
}

func (ls *LocalDiscLogService) DisableFiltering() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.filterEnabled = false
}

func (ls *LocalDiscLogService) shouldLog(level string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if !ls.filterEnabled {
		return true
	}
	return log_service.GetLevelValue(level) >= ls.minLevel
}

func fields(event log_service.LogEvent) []zap.Field {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	out := make([]zap.Field, 0, len(event.Metadata)+2)
	out = append(out, zap.String("node", event.NodeID), zap.Time("event_time", ts))
	for k, v := range event.Metadata {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (ls *LocalDiscLogService) log(level string, event log_service.LogEvent) {
	if !ls.shouldLog(level) {
		return
	}

	event.NodeID = ls.nodeID
	f := fields(event)

	switch level {
	case log_service.DebugLevel:
		ls.logger.Debug(event.Message, f...)
	case log_service.InfoLevel:
		ls.logger.Info(event.Message, f...)
	case log_service.WarnLevel:
		ls.logger.Warn(event.Message, f...)
	default:
		ls.logger.Error(event.Message, f...)
	}
}

func (ls *LocalDiscLogService) Debug(event log_service.LogEvent) {
	ls.log(log_service.DebugLevel, event)
}

func (ls *LocalDiscLogService) Info(event log_service.LogEvent) {
	ls.log(log_service.InfoLevel, event)
}

func (ls *LocalDiscLogService) Warn(event log_service.LogEvent) {
	ls.log(log_service.WarnLevel, event)
}

func (ls *LocalDiscLogService) Error(event log_service.LogEvent) {
	ls.log(log_service.ErrorLevel, event)
}

// Close flushes buffered entries and closes the log file.
func (ls *LocalDiscLogService) Close() error {
	_ = ls.logger.Sync()
	return ls.rotator.Close()
}

var _ log_service.LogService = (*LocalDiscLogService)(nil)
