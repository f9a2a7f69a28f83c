package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/types"
)

// Memory is the in-process Queue used without a REDIS_URL: same handler
// contract, same retry policy, no durability across restarts.
type Memory struct {
	handler Handler
	limiter *rate.Limiter
	logger  log.Logger

	tasks chan memoryTask

	mu   sync.Mutex
	jobs map[string][]*JobInfo
	ids  map[string]bool
}

type memoryTask struct {
	info    *JobInfo
	payload TrackPayload
}

var _ Queue = (*Memory)(nil)

// NewMemory builds an in-process queue delivering to handler.
func NewMemory(handler Handler, logger log.Logger) *Memory {
	return &Memory{
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(JobsPerSecond), JobsPerSecond),
		logger:  logger.With(log.ModuleKey, "queue"),
		tasks:   make(chan memoryTask, 1024),
		jobs:    make(map[string][]*JobInfo),
		ids:     make(map[string]bool),
	}
}

func (q *Memory) EnqueueTrack(ctx context.Context, flow *types.Flow) error {
	return q.enqueue(ctx, flow, "track-"+flow.ID, 0, "track")
}

func (q *Memory) EnqueueResume(ctx context.Context, flow *types.Flow, delay time.Duration) error {
	id := fmt.Sprintf("resume-%s-%d", flow.ID, time.Now().UnixMilli())
	return q.enqueue(ctx, flow, id, delay, "resume")
}

func (q *Memory) enqueue(_ context.Context, flow *types.Flow, taskID string, delay time.Duration, kind string) error {
	q.mu.Lock()
	if q.ids[taskID] {
		q.mu.Unlock()
		q.logger.Debug("task already enqueued", "task_id", taskID)
		return nil
	}
	q.ids[taskID] = true
	info := &JobInfo{ID: taskID, State: "scheduled", MaxRetry: MaxRetry}
	q.jobs[flow.ID] = append(q.jobs[flow.ID], info)
	q.mu.Unlock()

	task := memoryTask{
		info: info,
		payload: TrackPayload{
			FlowID:   flow.ID,
			FlowType: flow.FlowType,
			Params:   types.DeriveTrackingParams(flow),
		},
	}

	submit := func() {
		q.setState(info, "pending")
		select {
		case q.tasks <- task:
		default:
			q.setState(info, "dropped")
			q.logger.Error("queue full, dropping task", "task_id", taskID)
		}
	}
	if delay > 0 {
		time.AfterFunc(delay, submit)
	} else {
		submit()
	}

	metrics.JobsEnqueued.WithLabelValues(kind).Inc()
	q.logger.Info("job enqueued", "task_id", taskID, "flow_id", flow.ID, "kind", kind)
	return nil
}

func (q *Memory) JobStates(_ context.Context, flowID string) ([]JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]JobInfo, 0, len(q.jobs[flowID]))
	for _, info := range q.jobs[flowID] {
		out = append(out, *info)
	}
	return out, nil
}

// Start runs the worker pool until ctx is cancelled.
func (q *Memory) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	q.logger.Info("in-process queue worker started", "concurrency", WorkerConcurrency)
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (q *Memory) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.run(ctx, task)
		}
	}
}

// run applies the same retry policy as the durable backend: MaxRetry
// attempts with RetryBaseDelay doubling between them.
func (q *Memory) run(ctx context.Context, task memoryTask) {
	if err := q.limiter.Wait(ctx); err != nil {
		return
	}
	q.setState(task.info, "active")

	delay := RetryBaseDelay
	for attempt := 0; ; attempt++ {
		err := q.handler(ctx, task.payload)
		if err == nil {
			q.setState(task.info, "completed")
			return
		}

		q.mu.Lock()
		task.info.Retried = attempt
		task.info.LastError = err.Error()
		q.mu.Unlock()

		if attempt >= MaxRetry || ctx.Err() != nil {
			q.setState(task.info, "archived")
			q.logger.Error("job failed permanently", "task_id", task.info.ID, "error", err.Error())
			return
		}
		q.setState(task.info, "retry")
		q.logger.Warn("job failed, retrying", "task_id", task.info.ID, "attempt", attempt+1, "error", err.Error())

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (q *Memory) setState(info *JobInfo, state string) {
	q.mu.Lock()
	info.State = state
	q.mu.Unlock()
}

func (q *Memory) Ping(context.Context) error { return nil }
