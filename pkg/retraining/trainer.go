package retraining

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TAS/modelguard/pkg/logger"
	"github.com/TAS/modelguard/pkg/registry"
)

// JobStatus is the lifecycle state of a training job
type JobStatus string

const (
	// JobPending means the job is queued behind the worker limit
	JobPending JobStatus = "pending"
	// JobRunning means the training function is executing
	JobRunning JobStatus = "running"
	// JobCompleted means training finished and the version was registered
	JobCompleted JobStatus = "completed"
	// JobFailed means training errored or timed out
	JobFailed JobStatus = "failed"
)

// Job tracks one asynchronous training run
type Job struct {
	JobID       string     `json:"job_id"`
	ModelName   string     `json:"model_name"`
	Dataset     string     `json:"dataset"`
	Status      JobStatus  `json:"status"`
	VersionID   string     `json:"version_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	Reasons     []Reason   `json:"reasons,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TrainFunc produces a trained model artifact and its evaluation metrics.
// Implementations should honor ctx cancellation.
type TrainFunc func(ctx context.Context, modelName, dataset string) (registry.RegisterRequest, error)

// TrainerConfig bounds job execution
type TrainerConfig struct {
	// MaxConcurrentJobs caps simultaneously running training jobs
	MaxConcurrentJobs int
	// JobTimeout aborts a single training run
	JobTimeout time.Duration
}

// Trainer runs training jobs asynchronously and registers successful
// results as new model versions. Failed jobs leave the registry untouched.
type Trainer struct {
	config   TrainerConfig
	registry *registry.Registry
	train    TrainFunc
	log      *logger.Logger
	tracer   trace.Tracer

	sem chan struct{}
	wg  sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewTrainer creates a training job runner
func NewTrainer(config TrainerConfig, reg *registry.Registry, train TrainFunc, log *logger.Logger) *Trainer {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 2
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}
	return &Trainer{
		config:   config,
		registry: reg,
		train:    train,
		log:      log,
		tracer:   otel.Tracer("retraining-trainer"),
		sem:      make(chan struct{}, config.MaxConcurrentJobs),
		jobs:     make(map[string]*Job),
	}
}

// Submit queues a training job for a model and returns its job id
// immediately. The decision's reasons are carried on the job record.
func (t *Trainer) Submit(ctx context.Context, modelName, dataset string, decision *Decision) (string, error) {
	if t.train == nil {
		return "", fmt.Errorf("no training function configured")
	}

	job := &Job{
		JobID:       uuid.NewString(),
		ModelName:   modelName,
		Dataset:     dataset,
		Status:      JobPending,
		SubmittedAt: time.Now().UTC(),
	}
	if decision != nil {
		job.Reasons = append(job.Reasons, decision.Reasons...)
	}

	t.mu.Lock()
	t.jobs[job.JobID] = job
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(job.JobID)

	t.log.WithModel(modelName).WithField("job_id", job.JobID).Info("submitted training job")
	return job.JobID, nil
}

// run executes one job behind the worker semaphore
func (t *Trainer) run(jobID string) {
	defer t.wg.Done()

	t.sem <- struct{}{}
	defer func() { <-t.sem }()

	t.mu.RLock()
	job := t.jobs[jobID]
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.config.JobTimeout)
	defer cancel()

	ctx, span := t.tracer.Start(ctx, "trainer.run_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", jobID),
		attribute.String("model_name", job.ModelName),
	)

	now := time.Now().UTC()
	t.update(jobID, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &now
	})

	req, err := t.train(ctx, job.ModelName, job.Dataset)
	finished := time.Now().UTC()

	if err != nil {
		t.update(jobID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
			j.FinishedAt = &finished
		})
		t.log.WithModel(job.ModelName).WithField("job_id", jobID).WithError(err).Error("training job failed")
		return
	}

	versionID, err := t.registry.Register(ctx, req)
	if err != nil {
		t.update(jobID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
			j.FinishedAt = &finished
		})
		t.log.WithModel(job.ModelName).WithField("job_id", jobID).WithError(err).Error("failed to register trained version")
		return
	}

	t.update(jobID, func(j *Job) {
		j.Status = JobCompleted
		j.VersionID = versionID
		j.FinishedAt = &finished
	})
	t.log.WithModel(job.ModelName).WithField("job_id", jobID).Info("training job completed, registered %s", versionID)
}

// Job returns a copy of the job record
func (t *Trainer) Job(jobID string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return cloneJob(job), true
}

// Jobs returns copies of all job records, in no particular order
func (t *Trainer) Jobs() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, cloneJob(job))
	}
	return out
}

// Wait blocks until all submitted jobs finished
func (t *Trainer) Wait() {
	t.wg.Wait()
}

func (t *Trainer) update(jobID string, fn func(*Job)) {
	t.mu.Lock()
	if job, ok := t.jobs[jobID]; ok {
		fn(job)
	}
	t.mu.Unlock()
}

func cloneJob(job *Job) Job {
	clone := *job
	clone.Reasons = append([]Reason(nil), job.Reasons...)
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		clone.StartedAt = &startedAt
	}
	if job.FinishedAt != nil {
		finishedAt := *job.FinishedAt
		clone.FinishedAt = &finishedAt
	}
	return clone
}
