/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is a loop that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Leadership reports and announces leadership changes.
type Leadership interface {
	Start(ctx context.Context)
	Stop()
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareRunner runs a loop only while this instance is the leader.
type LeaderAwareRunner struct {
	runner   Runner
	election Leadership
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware wraps runner with leadership gating.
func NewLeaderAware(runner Runner, election Leadership, logger zerolog.Logger) *LeaderAwareRunner {
	return &LeaderAwareRunner{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_advisor").Logger(),
	}
}

// Run campaigns for leadership and starts or stops the loop as it changes.
// It blocks until ctx ends.
func (l *LeaderAwareRunner) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting leader-aware advisor")
	l.election.Start(ctx)
	defer l.election.Stop()
	defer l.stopRunner()

	if l.election.IsLeader() {
		l.startRunner(ctx)
	}

	leaderCh := l.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting advisor")
				l.startRunner(ctx)
			} else {
				l.logger.Warn().Msg("lost leadership, stopping advisor")
				l.stopRunner()
			}
		}
	}
}

// IsLeader returns whether this instance is the leader.
func (l *LeaderAwareRunner) IsLeader() bool {
	return l.election.IsLeader()
}

func (l *LeaderAwareRunner) startRunner(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.cancel = cancel
	l.stopped = done

	go func() {
		defer close(done)
		if err := l.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("advisor error")
		}
	}()
}

func (l *LeaderAwareRunner) stopRunner() {
	l.mu.Lock()
	cancel, done := l.cancel, l.stopped
	l.cancel, l.stopped = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
