// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultMaxEventsPerPoll is the event buffer size used by Run and Poll.
const DefaultMaxEventsPerPoll = 256

// engineOptions holds configuration options for Engine creation.
type engineOptions struct {
	backend          Backend
	logger           *logiface.Logger[logiface.Event]
	logRates         map[time.Duration]int
	maxEventsPerPoll int
	metricsEnabled   bool
}

// Option configures an Engine instance.
type Option interface {
	applyEngine(*engineOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyEngineFunc func(*engineOptions) error
}

func (o *optionImpl) applyEngine(opts *engineOptions) error {
	return o.applyEngineFunc(opts)
}

// WithMaxEventsPerPoll sets how many ready descriptors a single Run
// iteration or Poll may dispatch. PollOne always uses one.
func WithMaxEventsPerPoll(n int) Option {
	return &optionImpl{func(opts *engineOptions) error {
		if n < 1 {
			return fmt.Errorf("%w: max events per poll %d", ErrInvalidArgument, n)
		}
		opts.maxEventsPerPoll = n
		return nil
	}}
}

// WithBackend replaces the platform backend. The engine takes ownership and
// closes it on [Engine.Close].
func WithBackend(b Backend) Option {
	return &optionImpl{func(opts *engineOptions) error {
		if b == nil {
			return fmt.Errorf("%w: nil backend", ErrInvalidArgument)
		}
		opts.backend = b
		return nil
	}}
}

// WithLogger sets the logger used for engine diagnostics. A nil logger
// (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *engineOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLogRateLimits sets the per-category rate limits applied to
// diagnostics that may fire once per event, e.g. a signal with no handler.
// The map has the semantics of catrate.NewLimiter. An empty map disables
// limiting.
func WithLogRateLimits(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *engineOptions) error {
		opts.logRates = rates
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, see [Engine.Metrics].
// Dispatch latency is measured around every callback registered through
// the engine.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *engineOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to engineOptions.
func resolveOptions(opts []Option) (*engineOptions, error) {
	cfg := &engineOptions{
		maxEventsPerPoll: DefaultMaxEventsPerPoll,
		logRates:         defaultLogRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
