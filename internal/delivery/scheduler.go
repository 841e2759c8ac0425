// Package delivery runs the recurring media delivery to a connected peripheral.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecast/internal/groutine"
)

// DefaultInterval is the period between deliveries.
const DefaultInterval = 30 * time.Second

// Sink is the media output the scheduler drives. Play must not block on playback.
type Sink interface {
	Play() error
}

// Executor runs fn on the owner's control loop. It returns false when ctx is done
// before fn could be handed over.
type Executor func(ctx context.Context, fn func()) bool

// Inline runs fn on the calling goroutine.
func Inline(ctx context.Context, fn func()) bool {
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// Task is the handle of one running recurring delivery.
type Task struct {
	id       uint64
	target   string
	interval time.Duration
	started  time.Time
	fires    atomic.Int64
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// ID is unique per scheduler.
func (t *Task) ID() uint64 { return t.id }

// Target is the display name of the device the task delivers to.
func (t *Task) Target() string { return t.target }

// Interval is the period between fires.
func (t *Task) Interval() time.Duration { return t.interval }

// Started is when the task was installed.
func (t *Task) Started() time.Time { return t.started }

// Fires counts how many times the task invoked the sink.
func (t *Task) Fires() int64 { return t.fires.Load() }

// Scheduler owns at most one recurring delivery Task at a time.
type Scheduler struct {
	sink     Sink
	interval time.Duration
	clock    Clock
	exec     Executor
	logger   *logrus.Logger

	mu     sync.Mutex
	task   *Task
	nextID uint64
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Clock    Clock
	Executor Executor
}

// New creates a Scheduler delivering to sink.
func New(sink Sink, opts Options, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Executor == nil {
		opts.Executor = Inline
	}
	return &Scheduler{
		sink:     sink,
		interval: opts.Interval,
		clock:    opts.Clock,
		exec:     opts.Executor,
		logger:   logger,
	}
}

// Interval returns the configured period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start installs a new recurring task for target, replacing any running one.
// The first fire happens one interval after Start.
func (s *Scheduler) Start(target string) *Task {
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	ticker := s.clock.NewTicker(s.interval)

	s.mu.Lock()
	s.nextID++
	t := &Task{
		id:       s.nextID,
		target:   target,
		interval: s.interval,
		started:  s.clock.Now(),
		cancel:   cancel,
	}
	s.task = t
	s.mu.Unlock()

	t.done = groutine.Go(ctx, fmt.Sprintf("delivery-%d", t.id), func(ctx context.Context) {
		defer s.logger.Debugf("%s: exiting", groutine.GetName(ctx))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if !s.exec(ctx, func() { s.fire(t) }) {
					return
				}
			}
		}
	})

	s.logger.WithFields(logrus.Fields{
		"device":   target,
		"interval": s.interval,
		"task":     t.id,
	}).Info("Periodic delivery started")
	return t
}

// Stop cancels the running task, if any, and waits for its ticker goroutine to exit.
// A fire already queued on the executor is discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	t := s.task
	s.task = nil
	s.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done

	s.logger.WithFields(logrus.Fields{
		"device": t.target,
		"task":   t.id,
		"fires":  t.Fires(),
	}).Info("Periodic delivery stopped")
}

// Active returns the running task or nil.
func (s *Scheduler) Active() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

func (s *Scheduler) fire(t *Task) {
	s.mu.Lock()
	current := s.task == t
	s.mu.Unlock()
	if !current {
		return
	}

	t.fires.Add(1)
	s.logger.WithFields(logrus.Fields{
		"device": t.target,
		"fire":   t.Fires(),
	}).Info("Audio is being sent to device")

	if s.sink == nil {
		return
	}
	// Playback failures stay inside the sink.
	if err := s.sink.Play(); err != nil {
		s.logger.WithError(err).Debug("Media sink play failed")
	}
}
