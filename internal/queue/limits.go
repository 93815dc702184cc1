package queue

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
)

// Limits holds queue limits that can change at runtime. Its accessors are
// meant to be passed to New.
type Limits struct {
	maxConcurrent atomic.Int64
	minDelay      atomic.Int64
}

// NewLimits returns limits initialised from cfg.
func NewLimits(cfg config.QueueConfig) *Limits {
	l := &Limits{}
	l.Set(cfg)
	return l
}

// Set replaces both limits.
func (l *Limits) Set(cfg config.QueueConfig) {
	l.maxConcurrent.Store(int64(cfg.MaxConcurrent))
	l.minDelay.Store(int64(cfg.MinDelay))
}

// MaxConcurrent returns the current capacity. Zero means unbounded.
func (l *Limits) MaxConcurrent() int {
	return int(l.maxConcurrent.Load())
}

// MinDelay returns the current minimum delay between admissions.
func (l *Limits) MinDelay() time.Duration {
	return time.Duration(l.minDelay.Load())
}

// Queue names used by Set.
const (
	NameTabs      = "tabs"
	NameRequests  = "requests"
	NameDownloads = "downloads"
)

// Set is the group of independent queues used by the portal client.
type Set struct {
	Tabs      *Queue
	Requests  *Queue
	Downloads *Queue

	tabs      *Limits
	requests  *Limits
	downloads *Limits
	logger    *slog.Logger
}

// NewSet starts one queue per resource with limits taken from cfg.
func NewSet(cfg config.QueuesConfig, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{
		tabs:      NewLimits(cfg.Tabs),
		requests:  NewLimits(cfg.Requests),
		downloads: NewLimits(cfg.Downloads),
		logger:    logger,
	}
	s.Tabs = New(NameTabs, s.tabs.MaxConcurrent, s.tabs.MinDelay, logger)
	s.Requests = New(NameRequests, s.requests.MaxConcurrent, s.requests.MinDelay, logger)
	s.Downloads = New(NameDownloads, s.downloads.MaxConcurrent, s.downloads.MinDelay, logger)
	return s
}

// Apply installs new limits and wakes every queue so that raised limits take
// effect immediately.
func (s *Set) Apply(cfg config.QueuesConfig) {
	s.tabs.Set(cfg.Tabs)
	s.requests.Set(cfg.Requests)
	s.downloads.Set(cfg.Downloads)
	for _, q := range s.all() {
		q.Poke()
	}
	s.logger.Info("queue limits updated",
		"tabs_max_concurrent", cfg.Tabs.MaxConcurrent,
		"requests_max_concurrent", cfg.Requests.MaxConcurrent,
		"downloads_max_concurrent", cfg.Downloads.MaxConcurrent)
}

// Stats returns the state of every queue.
func (s *Set) Stats() []Stats {
	queues := s.all()
	stats := make([]Stats, 0, len(queues))
	for _, q := range queues {
		stats = append(stats, q.Stats())
	}
	return stats
}

// Close closes every queue.
func (s *Set) Close() {
	for _, q := range s.all() {
		q.Close()
	}
}

func (s *Set) all() []*Queue {
	return []*Queue{s.Tabs, s.Requests, s.Downloads}
}
