/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package reconciler schedules inventory refreshes: periodic resyncs,
// cloud config reloads and backed-off retries of failed clouds.
package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// EventType represents the type of reconciliation event
type EventType string

const (
	// FileEvent is sent when the watched config file changes.
	FileEvent EventType = "file"
	// TimerEvent is sent on every resync tick.
	TimerEvent EventType = "timer"
	// CloudEvent requests a refresh of the cloud named by the key.
	CloudEvent EventType = "cloud"
)

const resyncKey = "sync"

// Event represents a reconciliation event
type Event struct {
	Type EventType
	Key  string
	Data any
}

type eventKey struct {
	Type EventType
	Key  string
}

func (e Event) key() eventKey {
	return eventKey{Type: e.Type, Key: e.Key}
}

// EventSender queues events for the handler.
type EventSender interface {
	SendEvent(event Event)
	// RetryEvent schedules an event as a first retry, after the base delay.
	RetryEvent(event Event)
}

// Handler defines the interface for reconciliation logic
type Handler interface {
	Reconcile(ctx context.Context, sender EventSender, event Event) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, sender EventSender, event Event) error

// Reconcile calls the HandlerFunc with the given parameters
func (f HandlerFunc) Reconcile(ctx context.Context, sender EventSender, event Event) error {
	return f(ctx, sender, event)
}

type pendingEvent struct {
	event    Event
	attempts int
	due      time.Time
	backoff  wait.Backoff
}

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// WatchFile is a config file to watch. Its directory is watched so that
	// atomic replacements (rename, configmap symlink swap) are seen.
	WatchFile string
	// FileDebounce collapses a burst of writes to WatchFile into one event.
	FileDebounce time.Duration
	SyncDelay    time.Duration

	Clock  clock.WithTicker
	Logger logr.Logger
}

// DefaultConfig returns a default reconciler configuration
func DefaultConfig(logger logr.Logger) ReconcilerConfig {
	return ReconcilerConfig{
		MaxRetries:   5,
		BaseDelay:    5 * time.Second,
		MaxDelay:     5 * time.Minute,
		FileDebounce: 500 * time.Millisecond,
		SyncDelay:    10 * time.Minute,
		Clock:        clock.RealClock{},
		Logger:       logger,
	}
}

// Reconciler runs the handler for queued events, one at a time.
//
//nolint:containedctx
type Reconciler struct {
	config  ReconcilerConfig
	handler Handler
	logger  logr.Logger
	clock   clock.WithTicker

	incoming chan pendingEvent
	pending  map[eventKey]*pendingEvent

	watcher *fsnotify.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReconciler creates a new reconciliation scheduler
func NewReconciler(ctx context.Context, cancel context.CancelFunc, config ReconcilerConfig, handler Handler) (*Reconciler, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Reconciler{
		config:   config,
		handler:  handler,
		logger:   config.Logger,
		clock:    clk,
		incoming: make(chan pendingEvent, 100),
		pending:  map[eventKey]*pendingEvent{},
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the reconciliation scheduler
func (rf *Reconciler) Start() error {
	if rf.config.WatchFile != "" {
		dir := filepath.Dir(rf.config.WatchFile)
		if err := rf.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", dir, err)
		}

		rf.wg.Add(1)
		go rf.watchFiles()
	}

	var resync clock.Ticker
	if rf.config.SyncDelay > 0 {
		resync = rf.clock.NewTicker(rf.config.SyncDelay)
	}

	rf.wg.Add(1)
	go rf.run(resync)

	if resync != nil {
		rf.SendEvent(Event{Type: TimerEvent, Key: resyncKey, Data: rf.clock.Now()})
	}

	return nil
}

// Stop cancels the scheduler and waits for the running event to finish.
func (rf *Reconciler) Stop() {
	rf.stopOnce.Do(func() {
		rf.cancel()
		rf.watcher.Close() //nolint:errcheck
		rf.wg.Wait()
	})
}

// SendEvent queues an event to run as soon as possible.
func (rf *Reconciler) SendEvent(event Event) {
	rf.enqueue(pendingEvent{event: event, backoff: rf.newBackoff()})
}

// RetryEvent queues an event as a failed first attempt.
func (rf *Reconciler) RetryEvent(event Event) {
	b := rf.newBackoff()

	rf.enqueue(pendingEvent{event: event, attempts: 1, due: rf.clock.Now().Add(b.Step()), backoff: b})
}

func (rf *Reconciler) enqueue(p pendingEvent) {
	if rf.ctx.Err() != nil {
		return
	}

	select {
	case rf.incoming <- p:
	case <-rf.ctx.Done():
	}
}

func (rf *Reconciler) newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: rf.config.BaseDelay,
		Factor:   2,
		Cap:      rf.config.MaxDelay,
		Steps:    max(rf.config.MaxRetries, 1) + 1,
	}
}

// watchFiles turns config file changes into debounced FileEvents.
func (rf *Reconciler) watchFiles() {
	defer rf.wg.Done()

	rf.logger.V(1).Info("Starting file watcher", "file", rf.config.WatchFile)

	relevantOps := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	name := filepath.Base(rf.config.WatchFile)

	for {
		select {
		case event, ok := <-rf.watcher.Events:
			if !ok {
				return
			}

			if event.Op&relevantOps == 0 || !isConfigEvent(name, event.Name) {
				continue
			}

			rf.logger.V(3).Info("Config file event received", "name", event.Name, "op", event.Op)

			// one key so that bursts of writes collapse into a single reload
			rf.enqueue(pendingEvent{
				event:   Event{Type: FileEvent, Key: rf.config.WatchFile, Data: event},
				due:     rf.clock.Now().Add(rf.config.FileDebounce),
				backoff: rf.newBackoff(),
			})

		case err, ok := <-rf.watcher.Errors:
			if !ok {
				return
			}

			rf.logger.Error(err, "File watcher error")

		case <-rf.ctx.Done():
			return
		}
	}
}

// run owns the pending set: it merges incoming events by type and key,
// emits resync ticks and runs events once they are due.
func (rf *Reconciler) run(resync clock.Ticker) {
	defer rf.wg.Done()

	var resyncC <-chan time.Time

	if resync != nil {
		defer resync.Stop()

		resyncC = resync.C()
	}

	due := rf.clock.NewTicker(100 * time.Millisecond)
	defer due.Stop()

	rf.logger.V(1).Info("Starting scheduler", "resync", rf.config.SyncDelay)

	for {
		select {
		case p := <-rf.incoming:
			rf.pending[p.event.key()] = &p
			rf.runDue()

		case now := <-resyncC:
			rf.logger.V(3).Info("Resync tick")

			rf.pending[eventKey{Type: TimerEvent, Key: resyncKey}] = &pendingEvent{
				event:   Event{Type: TimerEvent, Key: resyncKey, Data: now},
				backoff: rf.newBackoff(),
			}
			rf.runDue()

		case <-due.C():
			rf.runDue()

		case <-rf.ctx.Done():
			rf.logger.V(1).Info("Scheduler shutting down", "pending", len(rf.pending))

			return
		}
	}
}

func (rf *Reconciler) runDue() {
	now := rf.clock.Now()

	for k, p := range rf.pending {
		if rf.ctx.Err() != nil {
			return
		}

		if p.due.After(now) {
			continue
		}

		delete(rf.pending, k)

		if next := rf.process(p); next != nil {
			rf.pending[k] = next
		}
	}
}

// process runs the handler and returns the next attempt of a failed event,
// or nil when the event succeeded or ran out of retries.
func (rf *Reconciler) process(p *pendingEvent) *pendingEvent {
	logger := rf.logger.WithValues("type", p.event.Type, "key", p.event.Key)
	logger.V(1).Info("Processing event", "attempts", p.attempts)

	err := rf.handler.Reconcile(rf.ctx, rf, p.event)

	switch {
	case err == nil:
		logger.V(1).Info("Event processed")

		return nil
	case p.attempts >= rf.config.MaxRetries:
		logger.Error(err, "Event failed, giving up", "attempts", p.attempts)

		return nil
	}

	delay := p.backoff.Step()

	logger.Error(err, "Event failed, scheduling retry", "attempt", p.attempts+1, "maxRetries", rf.config.MaxRetries, "retryIn", delay)

	return &pendingEvent{
		event:    p.event,
		attempts: p.attempts + 1,
		due:      rf.clock.Now().Add(delay),
		backoff:  p.backoff,
	}
}

// isConfigEvent reports whether a directory event touches the watched file.
// Kubernetes mounts swap a "..data" symlink instead of writing the file.
func isConfigEvent(name, path string) bool {
	base := filepath.Base(path)

	return base == name || base == "..data"
}
