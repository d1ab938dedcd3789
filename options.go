// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import "errors"

// loopOptions holds configuration resolved from a set of LoopOption values.
type loopOptions struct {
	externalQueueCapacity int
	metricsEnabled        bool
}

// LoopOption configures an EventLoop at construction time.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithExternalQueueCapacity bounds the number of pending Submit() tasks
// before Submit blocks. A capacity of zero means unbounded, which is the
// default; a negative capacity is rejected with an error. Set this on
// loops fed by untrusted or bursty producers.
func WithExternalQueueCapacity(capacity int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if capacity < 0 {
			return errors.New("reactor: external queue capacity must be >= 0")
		}
		opts.externalQueueCapacity = capacity
		return nil
	}}
}

// WithMetrics enables latency and queue-depth metrics collection,
// retrievable via EventLoop.Metrics(). Disabled by default since it adds a
// P-square update per task on the hot path.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies every LoopOption to a fresh loopOptions,
// in order, skipping nils so a caller can build an option slice
// conditionally without filtering it first.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
