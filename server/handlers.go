package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/store"
	"github.com/stablepath/flowtrack/types"
)

// trackFlowRequest is the POST /api/track/flow body.
type trackFlowRequest struct {
	FlowType         string               `json:"flowType"`
	InitialChain     string               `json:"initialChain"`
	DestinationChain string               `json:"destinationChain"`
	ChainType        string               `json:"chainType,omitempty"`
	TxHash           string               `json:"txHash,omitempty"`
	Metadata         map[string]any       `json:"metadata,omitempty"`
	ChainProgress    *types.ChainProgress `json:"chainProgress,omitempty"`
}

func (s *Server) handleTrackFlow(w http.ResponseWriter, r *http.Request) {
	var req trackFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	fields := map[string]string{}
	flowType, err := types.ParseFlowType(req.FlowType)
	if err != nil {
		fields["flowType"] = err.Error()
	}
	if _, ok := s.registry.Lookup(req.InitialChain); !ok {
		fields["initialChain"] = "unknown chain"
	}
	if _, ok := s.registry.Lookup(req.DestinationChain); !ok {
		fields["destinationChain"] = "unknown chain"
	}
	if len(fields) > 0 {
		s.writeValidationError(w, fields)
		return
	}

	flow := types.NewFlow(flowType, req.InitialChain, req.DestinationChain, req.TxHash, req.Metadata)
	if req.ChainProgress != nil {
		// Callers may seed progress (e.g. a burn already observed client
		// side) when registering.
		flow.ChainProgress = *req.ChainProgress
	}

	stored, created, err := s.store.CreateFlow(r.Context(), flow)
	if err != nil {
		s.logger.Error("flow registration failed", "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to create flow")
		return
	}

	if created {
		metrics.FlowsRegistered.WithLabelValues(string(flowType)).Inc()
		if err := s.queue.EnqueueTrack(r.Context(), stored); err != nil {
			s.logger.Error("failed to enqueue tracking job", "flow_id", stored.ID, "error", err.Error())
			s.writeError(w, http.StatusInternalServerError, "failed to enqueue tracking job")
			return
		}
		s.writeJSON(w, http.StatusCreated, stored)
		return
	}
	// Idempotent registration: same tx hash returns the existing flow and
	// enqueues nothing.
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleFlowStatus(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":            flow.ID,
		"status":        flow.Status,
		"chainProgress": flow.ChainProgress,
	})
}

func (s *Server) handleFlowLogs(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	logs, err := s.store.ListStatusLogs(r.Context(), flow.ID)
	if err != nil {
		s.logger.Error("status log read failed", "flow_id", flow.ID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to read status logs")
		return
	}
	if logs == nil {
		logs = []types.StatusLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleFlowJob(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	jobs, err := s.queue.JobStates(r.Context(), flow.ID)
	if err != nil {
		s.logger.Error("job state read failed", "flow_id", flow.ID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to read job states")
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// clientStageRequest is the POST /api/flow/{id}/stage body.
type clientStageRequest struct {
	Chain      string         `json:"chain"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status,omitempty"`
	Message    string         `json:"message,omitempty"`
	TxHash     string         `json:"txHash,omitempty"`
	OccurredAt *time.Time     `json:"occurredAt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Source     string         `json:"source,omitempty"`
}

func (s *Server) handleClientStage(w http.ResponseWriter, r *http.Request) {
	flow, ok := s.loadFlow(w, r)
	if !ok {
		return
	}

	var req clientStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	fields := map[string]string{}
	chain, err := types.ParseChainKey(req.Chain)
	if err != nil {
		fields["chain"] = err.Error()
	}
	if req.Stage == "" {
		fields["stage"] = "stage is required"
	}
	status := types.StageStatusConfirmed
	if req.Status != "" {
		switch types.StageStatus(req.Status) {
		case types.StageStatusPending, types.StageStatusConfirmed, types.StageStatusFailed:
			status = types.StageStatus(req.Status)
		default:
			fields["status"] = "unknown stage status"
		}
	}
	if len(fields) > 0 {
		s.writeValidationError(w, fields)
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	source := types.StageSourceClient
	if req.Source != "" {
		source = types.StageSource(req.Source)
	}

	stage := types.Stage{
		Stage:      req.Stage,
		Status:     status,
		Message:    req.Message,
		TxHash:     req.TxHash,
		OccurredAt: occurredAt,
		Source:     source,
		Metadata:   req.Metadata,
	}

	_, err = s.store.UpdateFlow(r.Context(), flow.ID, func(f *types.Flow) error {
		entry := f.ChainProgress.Ensure(chain)
		if req.Kind == "gasless" {
			entry.GaslessStages = append(entry.GaslessStages, stage)
		} else {
			entry.Stages = append(entry.Stages, stage)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("client stage append failed", "flow_id", flow.ID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to append stage")
		return
	}

	detail := map[string]any{"status": string(status)}
	if req.TxHash != "" {
		detail["txHash"] = req.TxHash
	}
	if req.Kind != "" {
		detail["kind"] = req.Kind
	}
	if err := s.store.AppendStatusLog(r.Context(), &types.StatusLog{
		FlowID:    flow.ID,
		Stage:     req.Stage,
		Chain:     chain,
		Source:    source,
		Detail:    detail,
		CreatedAt: occurredAt,
	}); err != nil {
		s.logger.Error("client stage log append failed", "flow_id", flow.ID, "error", err.Error())
	}

	s.bus.Publish(types.StatusUpdate{
		FlowID:     flow.ID,
		Chain:      chain,
		Stage:      req.Stage,
		Status:     status,
		Message:    req.Message,
		TxHash:     req.TxHash,
		OccurredAt: occurredAt,
		Source:     source,
		Metadata:   req.Metadata,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlowByHash(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chain, err := types.ParseChainKey(vars["chain"])
	if err != nil {
		s.writeValidationError(w, map[string]string{"chain": err.Error()})
		return
	}

	flow, err := s.store.FindFlowByChainTxHash(r.Context(), chain, vars["hash"])
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	if err != nil {
		s.logger.Error("flow lookup failed", "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to look up flow")
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "queue": "ok"}
	healthy := true
	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if err := s.queue.Ping(ctx); err != nil {
		checks["queue"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"status": checks})
}

// loadFlow resolves the {id} path variable; it writes the error response and
// reports false when the flow is unknown.
func (s *Server) loadFlow(w http.ResponseWriter, r *http.Request) (*types.Flow, bool) {
	id := mux.Vars(r)["id"]
	flow, err := s.store.GetFlow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "flow not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("flow read failed", "flow_id", id, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to read flow")
		return nil, false
	}
	return flow, true
}
