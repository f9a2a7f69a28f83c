// Package tracker drives one flow at a time to its terminal status: it
// sequences the chain pollers stage by stage, applies per-stage timeouts,
// persists progress and publishes status updates.
package tracker

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"cosmossdk.io/log"
)

// ErrFlowActive is returned when a flow is registered while an engine run
// for it is already active in this process. Callers hitting this raced the
// per-process lock; the running engine owns the flow.
var ErrFlowActive = errors.New("flow already active")

// stageClock is one stage's timeout countdown.
type stageClock struct {
	stage   string
	started time.Time
	budget  time.Duration
}

// activeFlow is one registered engine run.
type activeFlow struct {
	cancel context.CancelFunc
	clock  stageClock
}

type supervisorCmd struct {
	op     string
	flowID string
	cancel context.CancelFunc
	stage  string
	budget time.Duration
	reply  chan supervisorReply
}

type supervisorReply struct {
	err     error
	stage   string
	elapsed time.Duration
	budget  time.Duration
	ok      bool
}

// Supervisor owns the per-process active-flow and stage-timeout maps. A
// single goroutine serializes every mutation; engines and the HTTP stop path
// talk to it over the command channel, never by sharing the maps.
type Supervisor struct {
	cmds   chan supervisorCmd
	logger log.Logger
}

// NewSupervisor builds a supervisor; call Run before using it.
func NewSupervisor(logger log.Logger) *Supervisor {
	return &Supervisor{
		cmds:   make(chan supervisorCmd),
		logger: logger.With(log.ModuleKey, "supervisor"),
	}
}

// Run serves commands until ctx is cancelled, then cancels every active flow.
func (s *Supervisor) Run(ctx context.Context) error {
	active := make(map[string]*activeFlow)

	for {
		select {
		case <-ctx.Done():
			for id, f := range active {
				s.logger.Debug("cancelling active flow on shutdown", "flow_id", id)
				f.cancel()
			}
			return nil

		case cmd := <-s.cmds:
			var reply supervisorReply
			switch cmd.op {
			case "register":
				if _, ok := active[cmd.flowID]; ok {
					reply.err = errors.Wrap(ErrFlowActive, cmd.flowID)
					break
				}
				active[cmd.flowID] = &activeFlow{cancel: cmd.cancel}

			case "release":
				delete(active, cmd.flowID)

			case "stop":
				// Stopping an unknown flow is a no-op.
				if f, ok := active[cmd.flowID]; ok {
					f.cancel()
					reply.ok = true
				}

			case "record-stage":
				if f, ok := active[cmd.flowID]; ok {
					f.clock = stageClock{stage: cmd.stage, started: time.Now(), budget: cmd.budget}
				}

			case "elapsed":
				if f, ok := active[cmd.flowID]; ok && f.clock.stage != "" {
					reply.stage = f.clock.stage
					reply.elapsed = time.Since(f.clock.started)
					reply.budget = f.clock.budget
					reply.ok = true
				}
			}
			cmd.reply <- reply
		}
	}
}

func (s *Supervisor) send(cmd supervisorCmd) supervisorReply {
	cmd.reply = make(chan supervisorReply, 1)
	s.cmds <- cmd
	return <-cmd.reply
}

// Register claims the per-process lock for a flow. Registering an already
// active flow is a programmer error and returns ErrFlowActive.
func (s *Supervisor) Register(flowID string, cancel context.CancelFunc) error {
	return s.send(supervisorCmd{op: "register", flowID: flowID, cancel: cancel}).err
}

// Release drops the lock after an engine run finishes.
func (s *Supervisor) Release(flowID string) {
	s.send(supervisorCmd{op: "release", flowID: flowID})
}

// Stop cancels an in-flight engine run; it reports whether the flow was
// active.
func (s *Supervisor) Stop(flowID string) bool {
	return s.send(supervisorCmd{op: "stop", flowID: flowID}).ok
}

// RecordStage starts the timeout countdown for a flow's current stage.
func (s *Supervisor) RecordStage(flowID, stage string, budget time.Duration) {
	s.send(supervisorCmd{op: "record-stage", flowID: flowID, stage: stage, budget: budget})
}

// StageElapsed returns the current stage's countdown state.
func (s *Supervisor) StageElapsed(flowID string) (stage string, elapsed, budget time.Duration, ok bool) {
	r := s.send(supervisorCmd{op: "elapsed", flowID: flowID})
	return r.stage, r.elapsed, r.budget, r.ok
}
