package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

const (
	defaultTick         = time.Second
	defaultInitialDelay = 5 * time.Second
)

// Job represents a scheduled job.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// State
	lastRun    time.Time
	nextRun    time.Time
	lastError  error
	errorCount int
	running    bool
	mu         sync.RWMutex
}

// Scheduler runs registered jobs on their intervals. A failed job is retried
// after half its interval.
type Scheduler struct {
	ctx          context.Context
	jobs         []*Job
	tick         time.Duration
	initialDelay time.Duration
	wg           sync.WaitGroup
	mu           sync.RWMutex
}

// NewScheduler creates a new scheduler bound to ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:          ctx,
		jobs:         make([]*Job, 0),
		tick:         defaultTick,
		initialDelay: defaultInitialDelay,
	}
}

// AddJob adds a job to the scheduler. Jobs without an interval are ignored.
func (s *Scheduler) AddJob(job *Job) {
	if job.Interval <= 0 {
		util.Debug("Job %s disabled (no interval)", job.Name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job.nextRun = time.Now().Add(s.initialDelay)
	s.jobs = append(s.jobs, job)
}

// Run starts the scheduler and blocks until its context is done and all
// running jobs have returned.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	util.Info("Scheduler started with %d jobs", len(s.Jobs()))

	for {
		select {
		case <-s.ctx.Done():
			util.Info("Scheduler stopping")
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.checkJobs(now)
		}
	}
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name
	}
	return names
}

func (s *Scheduler) checkJobs(now time.Time) {
	s.mu.RLock()
	jobs := s.jobs
	s.mu.RUnlock()

	for _, job := range jobs {
		job.mu.RLock()
		shouldRun := !job.running && !now.Before(job.nextRun)
		job.mu.RUnlock()

		if shouldRun {
			s.wg.Add(1)
			go func(job *Job) {
				defer s.wg.Done()
				s.runJob(job)
			}(job)
		}
	}
}

func (s *Scheduler) runJob(job *Job) {
	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		return
	}
	job.running = true
	job.lastRun = time.Now()
	job.mu.Unlock()

	util.Debug("Running job: %s", job.Name)

	ctx, cancel := context.WithTimeout(s.ctx, job.Interval)
	defer cancel()

	err := job.Run(ctx)

	job.mu.Lock()
	job.running = false
	if err != nil {
		job.lastError = err
		job.errorCount++
		util.WithFields(util.Fields{"job": job.Name, "errors": job.errorCount, "error": err.Error()}).Warn("job failed")
		job.nextRun = time.Now().Add(job.Interval / 2)
	} else {
		job.lastError = nil
		util.Debug("Job %s completed successfully", job.Name)
		job.nextRun = time.Now().Add(job.Interval)
	}
	job.mu.Unlock()
}

// GetJobStatuses returns the status of all jobs.
func (s *Scheduler) GetJobStatuses() []model.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]model.JobStatus, len(s.jobs))
	for i, job := range s.jobs {
		job.mu.RLock()
		status := model.JobStatus{
			Name:       job.Name,
			Interval:   job.Interval,
			LastRun:    job.lastRun,
			NextRun:    job.nextRun,
			ErrorCount: job.errorCount,
			Running:    job.running,
		}
		if job.lastError != nil {
			status.LastError = job.lastError.Error()
		}
		job.mu.RUnlock()
		statuses[i] = status
	}

	return statuses
}

// GetJob returns a job by name.
func (s *Scheduler) GetJob(name string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.Name == name {
			return job
		}
	}
	return nil
}

// TriggerJob manually triggers a job on the next tick.
func (s *Scheduler) TriggerJob(name string) bool {
	job := s.GetJob(name)
	if job == nil {
		return false
	}

	job.mu.Lock()
	job.nextRun = time.Now()
	job.mu.Unlock()

	return true
}
