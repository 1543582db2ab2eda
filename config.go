package genstore

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Configuration errors, surfaced only at construction time (spec.md §7).
var (
	// ErrNoLimit is returned when neither Gen0Limit nor TimeToLive is set;
	// at least one bound is required to keep the store from growing without
	// limit.
	ErrNoLimit = errors.New("genstore: at least one of Gen0Limit or TimeToLive must be set")
	// ErrInvalidGen0Limit is returned when Gen0Limit is set but negative.
	ErrInvalidGen0Limit = errors.New("genstore: Gen0Limit must be >= 1 when set")
	// ErrInvalidTTL is returned when TimeToLive is set but not positive.
	ErrInvalidTTL = errors.New("genstore: TimeToLive must be > 0 when set")
)

// Clock abstracts time.Now for deterministic tests, mirroring the teacher
// cache package's Clock interface (cache/options.go).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config configures a GenerationalStore. The zero value is invalid: at
// least one of Gen0Limit or TimeToLive must be set (spec.md §4.1).
type Config struct {
	// Gen0Limit bounds Gen0's entry count. A collection runs before an
	// insert would push Gen0 to this size. 0 means "not size-bounded" —
	// only valid when TimeToLive is set.
	Gen0Limit int

	// TimeToLive enables a periodic collector waking every TimeToLive/2.
	// 0 disables the periodic collector — only valid when Gen0Limit is set.
	TimeToLive time.Duration

	// Metrics receives Hit/Miss/Promote/Collect/Size signals. Nil uses
	// NoopMetrics, matching the teacher's cache.Options.Metrics default.
	Metrics Metrics

	// Logger receives structured diagnostics (collections, listener
	// panics). Nil uses zap.NewNop(), following Voskan/arena-cache's
	// pkg/config.go logger option.
	Logger *zap.Logger

	// Clock overrides the time source for tests. Nil uses time.Now.
	Clock Clock
}

func (c Config) clock() Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return systemClock{}
}

func (c Config) metrics() Metrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return NoopMetrics{}
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// validate checks Config and returns a configuration error, never a panic
// (narrowing the teacher's cache.New, which panics on bad Options).
func (c Config) validate() error {
	if c.Gen0Limit < 0 {
		return ErrInvalidGen0Limit
	}
	if c.TimeToLive < 0 {
		return ErrInvalidTTL
	}
	if c.Gen0Limit == 0 && c.TimeToLive == 0 {
		return ErrNoLimit
	}
	return nil
}
