package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/types"
)

// Asynq is the Redis-backed Queue used in production: durable jobs, retry
// with exponential backoff, completed-job retention and a failed-job
// archive.
type Asynq struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	redis     *redis.Client
	handler   Handler
	limiter   *rate.Limiter
	logger    log.Logger
}

var _ Queue = (*Asynq)(nil)

// NewAsynq connects the queue to the Redis at redisURL.
func NewAsynq(redisURL string, handler Handler, logger log.Logger) (*Asynq, error) {
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	redisOpt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}

	qlog := logger.With(log.ModuleKey, "queue")
	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: WorkerConcurrency,
		Queues:      map[string]int{QueueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return RetryBaseDelay << n // #nosec G115 -- n is bounded by MaxRetry
		},
		Logger: asynqLogger{qlog},
	})

	return &Asynq{
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		server:    server,
		redis:     redis.NewClient(redisOpt),
		handler:   handler,
		limiter:   rate.NewLimiter(rate.Limit(JobsPerSecond), JobsPerSecond),
		logger:    qlog,
	}, nil
}

func (q *Asynq) EnqueueTrack(ctx context.Context, flow *types.Flow) error {
	return q.enqueue(ctx, flow, "track-"+flow.ID, 0, "track")
}

func (q *Asynq) EnqueueResume(ctx context.Context, flow *types.Flow, delay time.Duration) error {
	id := fmt.Sprintf("resume-%s-%d", flow.ID, time.Now().UnixMilli())
	return q.enqueue(ctx, flow, id, delay, "resume")
}

func (q *Asynq) enqueue(ctx context.Context, flow *types.Flow, taskID string, delay time.Duration, kind string) error {
	payload, err := json.Marshal(TrackPayload{
		FlowID:   flow.ID,
		FlowType: flow.FlowType,
		Params:   types.DeriveTrackingParams(flow),
	})
	if err != nil {
		return errors.Wrap(err, "encode track payload")
	}

	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(MaxRetry),
		asynq.Retention(CompletedRetention),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeTrackFlow, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same task id means the job is already queued; registration stays
		// idempotent.
		q.logger.Debug("task already enqueued", "task_id", taskID)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "enqueue %s", taskID)
	}
	metrics.JobsEnqueued.WithLabelValues(kind).Inc()
	q.logger.Info("job enqueued", "task_id", taskID, "flow_id", flow.ID, "kind", kind)
	return nil
}

func (q *Asynq) JobStates(_ context.Context, flowID string) ([]JobInfo, error) {
	var out []JobInfo

	if info, err := q.inspector.GetTaskInfo(QueueName, "track-"+flowID); err == nil {
		out = append(out, toJobInfo(info))
	} else if !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, errors.Wrap(err, "inspect track task")
	}

	// Resume tasks carry a timestamp suffix; find them by id prefix across
	// the queue's state lists.
	prefix := "resume-" + flowID + "-"
	lists := []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		q.inspector.ListPendingTasks,
		q.inspector.ListActiveTasks,
		q.inspector.ListScheduledTasks,
		q.inspector.ListRetryTasks,
		q.inspector.ListArchivedTasks,
		q.inspector.ListCompletedTasks,
	}
	for _, list := range lists {
		tasks, err := list(QueueName, asynq.PageSize(100))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "inspect resume tasks")
		}
		for _, info := range tasks {
			if strings.HasPrefix(info.ID, prefix) {
				out = append(out, toJobInfo(info))
			}
		}
	}
	return out, nil
}

// Start serves jobs until ctx is cancelled, then drains in-flight handlers.
func (q *Asynq) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeTrackFlow, q.process)

	if err := q.server.Start(mux); err != nil {
		return errors.Wrap(err, "start queue server")
	}
	q.logger.Info("queue worker started", "concurrency", WorkerConcurrency)

	<-ctx.Done()
	q.logger.Info("stopping queue worker...")
	q.server.Shutdown()
	return nil
}

func (q *Asynq) process(ctx context.Context, task *asynq.Task) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}
	var payload TrackPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that never parses cannot succeed on retry.
		return errors.Wrap(asynq.SkipRetry, err.Error())
	}
	return q.handler(ctx, payload)
}

func (q *Asynq) Ping(ctx context.Context) error {
	return errors.Wrap(q.redis.Ping(ctx).Err(), "ping redis")
}

// Close releases the enqueue-side connections.
func (q *Asynq) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}

func toJobInfo(info *asynq.TaskInfo) JobInfo {
	return JobInfo{
		ID:        info.ID,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
}

// asynqLogger adapts asynq's logging interface onto the service logger.
type asynqLogger struct {
	logger log.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
