package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryWorkflow   Category = "workflow"
	CategoryValidation Category = "validation"
	CategoryRender     Category = "render"
	CategoryGateway    Category = "gateway"
	CategoryRetry      Category = "retry"
	CategoryNetwork    Category = "network"
	CategoryStorage    Category = "storage"
	CategoryEvents     Category = "events"
)

// Options configures New.
type Options struct {
	Level  Level
	Format string // json or console
	// Outputs are zap sink URLs or file paths. Defaults to stderr.
	Outputs []string
}

// New builds a zap logger from options.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	if len(opts.Outputs) > 0 {
		cfg.OutputPaths = append([]string{}, opts.Outputs...)
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ForCategory tags every entry from the returned logger with category.
func ForCategory(l *zap.Logger, category Category) *zap.Logger {
	return OrNop(l).With(CategoryField(category))
}

// CategoryField is the structured field used for categories.
func CategoryField(category Category) zap.Field {
	return zap.String("category", string(category))
}

// PlanID is the structured field used for diff plan ids.
func PlanID(id string) zap.Field {
	return zap.String("plan_id", id)
}

// Repo is the structured field used for repository names.
func Repo(name string) zap.Field {
	return zap.String("repo", name)
}

func parseLevel(level Level) (zapcore.Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(string(level)))) {
	case "", LevelInfo:
		return zapcore.InfoLevel, nil
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
