// Package scheduler maps wall-clock time in the market's zone to jobs.
// Fire times follow the configured location through DST transitions, each
// job runs on its own goroutine bounded by a fixed pool of worker slots,
// and a fire that arrives while the previous invocation is still running
// is skipped and counted, never queued.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron  *cron.Cron
	log   zerolog.Logger
	slots chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
	overruns map[string]int64
}

// New creates a scheduler firing in loc. Specs are six-field cron
// expressions (seconds first). At most workers jobs run concurrently;
// a fire that finds every slot busy waits for one rather than skipping.
func New(loc *time.Location, workers int, log zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		log:      log.With().Str("component", "scheduler").Logger(),
		slots:    make(chan struct{}, workers),
		inFlight: make(map[string]bool),
		overruns: make(map[string]int64),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops new fires and waits for in-flight jobs, at most drain.
func (s *Scheduler) Stop(drain time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.log.Info().Msg("Scheduler stopped")
	case <-time.After(drain):
		s.log.Warn().Dur("drain_ms", drain).Msg("Drain window elapsed with jobs still in flight")
	}
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "0 30 7 * * MON-FRI" - 7:30 AM weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule. The overrun
// policy and the worker bound still apply: a job already in flight is not
// run twice, and the call waits for a free slot.
func (s *Scheduler) RunNow(job Job) error {
	if !s.claim(job.Name()) {
		return fmt.Errorf("job %s already running", job.Name())
	}
	defer s.release(job.Name())

	s.acquireSlot(job.Name())
	defer func() { <-s.slots }()

	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// Overruns returns the skipped-fire count per job, for the status surface.
func (s *Scheduler) Overruns() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64, len(s.overruns))
	for name, n := range s.overruns {
		counts[name] = n
	}
	return counts
}

// execute runs one fire of the job with overrun skip, the worker bound,
// and panic recovery.
func (s *Scheduler) execute(job Job) {
	if !s.claim(job.Name()) {
		s.log.Warn().Str("job", job.Name()).Msg("Previous run still in flight, skipping fire")
		return
	}
	defer s.release(job.Name())

	s.acquireSlot(job.Name())
	defer func() { <-s.slots }()

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Str("job", job.Name()).Str("panic", fmt.Sprint(rec)).Msg("Job panicked")
		}
	}()

	started := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration_ms", time.Since(started)).
			Msg("Job failed")
		return
	}
	s.log.Debug().
		Str("job", job.Name()).
		Dur("duration_ms", time.Since(started)).
		Msg("Job completed")
}

// claim marks the job in flight. A false return means the previous
// invocation has not finished; the fire is counted as an overrun.
func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[name] {
		s.overruns[name]++
		return false
	}
	s.inFlight[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
}

// acquireSlot blocks until a worker slot frees up. Waiting is bounded in
// practice: the overrun skip caps in-flight-or-waiting jobs at one per name.
func (s *Scheduler) acquireSlot(name string) {
	select {
	case s.slots <- struct{}{}:
		return
	default:
	}

	started := time.Now()
	s.slots <- struct{}{}
	s.log.Debug().
		Str("job", name).
		Dur("waited_ms", time.Since(started)).
		Msg("Waited for a worker slot")
}
