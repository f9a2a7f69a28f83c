package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/config"
	"github.com/stablepath/flowtrack/events"
	"github.com/stablepath/flowtrack/metrics"
	"github.com/stablepath/flowtrack/poller"
	"github.com/stablepath/flowtrack/store"
	"github.com/stablepath/flowtrack/types"
)

// stageOutcome is the result of one stage run as seen by the sequencer.
type stageOutcome int

const (
	// stageConfirmed advances the sequence.
	stageConfirmed stageOutcome = iota
	// stageSkipped means prerequisites were absent; downstream stages still run.
	stageSkipped
	// stageHalted ends the run: the stage timed out (already recorded as
	// undetermined) or the engine was cancelled.
	stageHalted
)

// Engine drives one flow to completion. It is safe for concurrent use
// across distinct flows; the supervisor serializes runs per flow.
type Engine struct {
	store      store.Store
	bus        *events.Bus
	clients    ChainClients
	registry   config.ChainRegistry
	polling    config.PollingConfigs
	supervisor *Supervisor
	logger     log.Logger
}

// NewEngine wires an engine over its collaborators.
func NewEngine(
	st store.Store,
	bus *events.Bus,
	clients ChainClients,
	registry config.ChainRegistry,
	polling config.PollingConfigs,
	supervisor *Supervisor,
	logger log.Logger,
) *Engine {
	return &Engine{
		store:      st,
		bus:        bus,
		clients:    clients,
		registry:   registry,
		polling:    polling,
		supervisor: supervisor,
		logger:     logger.With(log.ModuleKey, "tracker"),
	}
}

// Run tracks one flow until it reaches a terminal status, its observation
// window closes, or ctx is cancelled. Stage failures are absorbed into the
// flow's terminal state; only infrastructure errors (store, registry) are
// returned to the caller for queue-level retry.
func (e *Engine) Run(ctx context.Context, flow *types.Flow) error {
	if flow.Status.Terminal() {
		e.logger.Debug("flow already terminal, nothing to do", "flow_id", flow.ID, "status", flow.Status)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.supervisor.Register(flow.ID, cancel); err != nil {
		return err
	}
	defer e.supervisor.Release(flow.ID)

	params := types.DeriveTrackingParams(flow)
	e.logger.Info("tracking flow",
		"flow_id", flow.ID, "flow_type", flow.FlowType,
		"initial_chain", flow.InitialChain, "destination_chain", flow.DestinationChain)

	var err error
	switch flow.FlowType {
	case types.FlowTypeDeposit:
		err = e.runDeposit(ctx, flow, params)
	case types.FlowTypePayment:
		err = e.runPayment(ctx, flow, params)
	default:
		err = errors.Errorf("unknown flow type %q", flow.FlowType)
	}
	if err != nil {
		e.handleStageFailure(flow.ID, err)
	}
	return nil
}

// StopFlow cancels an in-flight engine run. Unknown flows are a no-op. A
// cancellation arriving after the run recorded a terminal status changes
// nothing.
func (e *Engine) StopFlow(flowID string) bool {
	return e.supervisor.Stop(flowID)
}

// runDeposit sequences EVM burn -> Noble deposit -> Namada receive.
func (e *Engine) runDeposit(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) error {
	if outcome, err := e.runEVMBurnStage(ctx, flow, params); err != nil || outcome == stageHalted {
		return err
	}
	if outcome, err := e.runNobleDepositStage(ctx, flow, params); err != nil || outcome == stageHalted {
		return err
	}
	outcome, err := e.runNamadaReceiveStage(ctx, flow, params)
	if err != nil || outcome != stageConfirmed {
		return err
	}
	return e.completeFlow(ctx, flow.ID, types.ChainKeyNamada)
}

// runPayment sequences Namada IBC send -> Noble payment -> EVM mint.
func (e *Engine) runPayment(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) error {
	if outcome, err := e.runNamadaIBCStage(ctx, flow, params); err != nil || outcome == stageHalted {
		return err
	}
	if outcome, err := e.runNoblePaymentStage(ctx, flow, params); err != nil || outcome == stageHalted {
		return err
	}
	outcome, err := e.runEVMMintStage(ctx, flow, params)
	if err != nil || outcome != stageConfirmed {
		return err
	}
	return e.completeFlow(ctx, flow.ID, types.ChainKeyEVM)
}

func (e *Engine) runEVMBurnStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	if params.EvmBurnTxHash == "" || e.evmTokenAddress(flow.InitialChain, params) == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyEVMBurn)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyEVM, types.StageEVMBurnConfirmed) {
		return stageConfirmed, nil
	}

	client, err := e.clients.EVM(flow.InitialChain)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyEVMBurn)
	}
	p := poller.NewEVMPoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:      types.StageKeyEVMBurn,
		chainKey: types.ChainKeyEVM,
		chainID:  flow.InitialChain,
		final:    types.StageEVMBurnConfirmed,
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollBurnConfirmation(ctx, poller.BurnParams{
				PollParams:   pp,
				TxHash:       params.EvmBurnTxHash,
				TokenAddress: e.evmTokenAddress(flow.InitialChain, params),
			}, onUpdate)
		},
	})
}

func (e *Engine) runNobleDepositStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	if params.ForwardingAddress == "" || params.NamadaReceiver == "" || params.ExpectedAmountUusdc == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyNobleDeposit)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyNoble, types.StageNobleIBCForwarded) {
		return stageConfirmed, nil
	}

	nobleID, ok := e.registry.NobleChainID()
	if !ok {
		return stageSkipped, errors.New("chain registry has no noble entry")
	}
	client, err := e.clients.Tendermint(nobleID)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyNobleDeposit)
	}
	p := poller.NewNoblePoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:         types.StageKeyNobleDeposit,
		chainKey:    types.ChainKeyNoble,
		chainID:     nobleID,
		ensureStart: true,
		tip:         tendermintTip(client),
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollForDeposit(ctx, poller.NobleDepositParams{
				PollParams:          pp,
				ForwardingAddress:   params.ForwardingAddress,
				NamadaReceiver:      params.NamadaReceiver,
				ExpectedAmountUusdc: params.ExpectedAmountUusdc,
			}, onUpdate)
		},
	})
}

func (e *Engine) runNamadaReceiveStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	if params.ForwardingAddress == "" || params.NamadaReceiver == "" || params.ExpectedAmountUusdc == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyNamadaReceive)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyNamada, types.StageNamadaReceived) {
		return stageConfirmed, nil
	}

	client, err := e.clients.Tendermint(flow.DestinationChain)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyNamadaReceive)
	}
	p := poller.NewNamadaPoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:         types.StageKeyNamadaReceive,
		chainKey:    types.ChainKeyNamada,
		chainID:     flow.DestinationChain,
		ensureStart: true,
		tip:         tendermintTip(client),
		final:       types.StageNamadaReceived,
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollForDeposit(ctx, poller.NamadaDepositParams{
				PollParams:        pp,
				ForwardingAddress: params.ForwardingAddress,
				NamadaReceiver:    params.NamadaReceiver,
				ExpectedAmount:    params.ExpectedAmountUusdc,
			}, onUpdate)
		},
	})
}

func (e *Engine) runNamadaIBCStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	if params.NamadaIbcTxHash == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyNamadaIBC)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyNamada, types.StageNamadaIBCSent) {
		return stageConfirmed, nil
	}

	client, err := e.clients.Tendermint(flow.InitialChain)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyNamadaIBC)
	}
	p := poller.NewNamadaPoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:      types.StageKeyNamadaIBC,
		chainKey: types.ChainKeyNamada,
		chainID:  flow.InitialChain,
		final:    types.StageNamadaIBCSent,
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollIBCSent(ctx, poller.NamadaTxParams{
				PollParams: pp,
				TxHash:     params.NamadaIbcTxHash,
			}, onUpdate)
		},
	})
}

func (e *Engine) runNoblePaymentStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	if params.MemoJSON == "" || params.AmountBaseUnits == "" || params.ForwardingAddress == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyNoblePayment)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyNoble, types.StageNobleCCTPBurned) {
		return stageConfirmed, nil
	}

	nobleID, ok := e.registry.NobleChainID()
	if !ok {
		return stageSkipped, errors.New("chain registry has no noble entry")
	}
	client, err := e.clients.Tendermint(nobleID)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyNoblePayment)
	}
	p := poller.NewNoblePoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:         types.StageKeyNoblePayment,
		chainKey:    types.ChainKeyNoble,
		chainID:     nobleID,
		ensureStart: true,
		tip:         tendermintTip(client),
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollForOrbiter(ctx, poller.NobleOrbiterParams{
				PollParams:           pp,
				Receiver:             params.ForwardingAddress,
				Amount:               params.AmountBaseUnits,
				MemoJSON:             params.MemoJSON,
				DestinationCallerB64: params.DestinationCallerB64,
				MintRecipientB64:     params.MintRecipientB64,
				DestinationDomain:    params.DestinationDomain,
			}, onUpdate)
		},
	})
}

func (e *Engine) runEVMMintStage(ctx context.Context, flow *types.Flow, params types.FlowTrackingParams) (stageOutcome, error) {
	token := e.evmTokenAddress(flow.DestinationChain, params)
	if token == "" || params.Recipient == "" || params.AmountBaseUnits == "" {
		e.logger.Info("skipping stage, prerequisites absent",
			"flow_id", flow.ID, "stage", types.StageKeyEVMMint)
		return stageSkipped, nil
	}
	if e.stageAlreadyConfirmed(flow, types.ChainKeyEVM, types.StageEVMUSDCMinted) {
		return stageConfirmed, nil
	}

	client, err := e.clients.EVM(flow.DestinationChain)
	if err != nil {
		return stageSkipped, errors.Wrapf(err, "stage %s", types.StageKeyEVMMint)
	}
	p := poller.NewEVMPoller(client, e.logger)

	return e.runStage(ctx, flow, stageSpec{
		key:         types.StageKeyEVMMint,
		chainKey:    types.ChainKeyEVM,
		chainID:     flow.DestinationChain,
		ensureStart: true,
		tip:         client.BlockNumber,
		final:       types.StageEVMUSDCMinted,
		poll: func(ctx context.Context, pp poller.PollParams, onUpdate poller.OnUpdate) poller.PollResult {
			return p.PollUsdcMint(ctx, poller.UsdcMintParams{
				PollParams:      pp,
				TokenAddress:    token,
				Recipient:       params.Recipient,
				AmountBaseUnits: params.AmountBaseUnits,
			}, onUpdate)
		},
	})
}

// stageSpec describes one sequenced stage to runStage.
type stageSpec struct {
	key      string
	chainKey types.ChainKey
	chainID  string

	// ensureStart resolves and persists the chain's scan start height
	// before polling; tip supplies the chain tip for the backscan window.
	ensureStart bool
	tip         func(context.Context) (uint64, error)

	// final, when non-empty, is the observation appended when the poll
	// matches. Multi-observation pollers append theirs through onUpdate.
	final string

	poll func(context.Context, poller.PollParams, poller.OnUpdate) poller.PollResult
}

// runStage applies the uniform per-stage protocol: budget lookup, timeout
// registration, start-block resolution, poll under a linked context, and
// result interpretation.
func (e *Engine) runStage(ctx context.Context, flow *types.Flow, spec stageSpec) (stageOutcome, error) {
	cfg := e.polling.For(spec.chainID)
	budget := cfg.StageTimeout()
	e.supervisor.RecordStage(flow.ID, spec.key, budget)

	var startBlock uint64
	if spec.ensureStart {
		var err error
		startBlock, err = e.ensureStartBlock(ctx, flow, spec.chainKey, cfg.BlockWindowBackscan, spec.tip)
		if err != nil {
			return stageSkipped, errors.Wrapf(err, "stage %s", spec.key)
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result := spec.poll(stageCtx, poller.PollParams{
		FlowID:            flow.ID,
		ChainID:           spec.chainID,
		StartBlock:        startBlock,
		Timeout:           budget,
		Interval:          cfg.PollInterval(),
		BlockRequestDelay: cfg.BlockRequestDelay(),
	}, func(u poller.StageUpdate) {
		if err := e.appendConfirmedStage(ctx, flow, spec.chainKey, u.Stage, u.TxHash, u.Height, false); err != nil {
			e.logger.Error("failed to record stage observation",
				"flow_id", flow.ID, "stage", u.Stage, "error", err.Error())
		}
	})

	if result.Found {
		final := spec.final
		if final == "" {
			// Multi-observation stages recorded everything via onUpdate; the
			// chain entry still needs its confirmed verdict.
			return stageConfirmed, e.confirmChainEntry(ctx, flow, spec.chainKey, result.TxHash)
		}
		if err := e.appendConfirmedStage(ctx, flow, spec.chainKey, final, result.TxHash, result.BlockHeight, true); err != nil {
			return stageSkipped, errors.Wrapf(err, "stage %s", spec.key)
		}
		return stageConfirmed, nil
	}

	// No match: decide between timeout, cancellation and stage-incomplete.
	if _, elapsed, tracked, ok := e.supervisor.StageElapsed(flow.ID); ok && elapsed >= tracked {
		e.handlePollingTimeout(flow.ID, spec.key, spec.chainKey, tracked, elapsed)
		return stageHalted, nil
	}
	if ctx.Err() != nil {
		e.logger.Info("stage cancelled", "flow_id", flow.ID, "stage", spec.key)
		return stageHalted, nil
	}
	return stageSkipped, errors.Errorf("stage %s incomplete: poller returned without match", spec.key)
}

// ensureStartBlock resolves the height scanning begins at for a chain. The
// first resolution persists max(0, tip - backscan) into the flow's chain
// progress; later calls reuse the stored value and never re-derive it.
func (e *Engine) ensureStartBlock(
	ctx context.Context,
	flow *types.Flow,
	chainKey types.ChainKey,
	backscan int,
	tip func(context.Context) (uint64, error),
) (uint64, error) {
	if entry := flow.ChainProgress.Entry(chainKey); entry != nil && entry.StartBlock != nil {
		return *entry.StartBlock, nil
	}

	height, err := tip(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve %s start block", chainKey)
	}
	start := uint64(0)
	if height > uint64(backscan) { // #nosec G115 -- backscan is a small config value
		start = height - uint64(backscan) // #nosec G115
	}

	updated, err := e.store.UpdateFlow(ctx, flow.ID, func(f *types.Flow) error {
		entry := f.ChainProgress.Ensure(chainKey)
		if entry.StartBlock == nil {
			entry.StartBlock = &start
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Another writer may have won the write-once race; the stored value is
	// authoritative either way. Cache it locally to avoid re-fetching.
	stored := *updated.ChainProgress.Entry(chainKey).StartBlock
	flow.ChainProgress.Ensure(chainKey).StartBlock = &stored
	return stored, nil
}

// appendConfirmedStage persists one confirmed observation, writes its audit
// row and publishes the status update. Appending is idempotent per (flow,
// stage): a resume that re-observes an already recorded stage writes
// nothing.
func (e *Engine) appendConfirmedStage(
	ctx context.Context,
	flow *types.Flow,
	chainKey types.ChainKey,
	stage, txHash string,
	height uint64,
	final bool,
) error {
	now := time.Now().UTC()
	appended := false

	updated, err := e.store.UpdateFlow(ctx, flow.ID, func(f *types.Flow) error {
		entry := f.ChainProgress.Ensure(chainKey)
		checked := time.Now().UTC()
		entry.LastCheckedAt = &checked
		if final {
			entry.Status = types.StageStatusConfirmed
			if txHash != "" {
				entry.TxHash = txHash
			}
		}
		for _, s := range entry.Stages {
			if s.Stage == stage {
				return nil
			}
		}
		appended = true
		entry.Stages = append(entry.Stages, types.Stage{
			Stage:      stage,
			Status:     types.StageStatusConfirmed,
			TxHash:     txHash,
			OccurredAt: now,
			Source:     types.StageSourcePoller,
		})
		return nil
	})
	if err != nil {
		return err
	}
	flow.ChainProgress = updated.ChainProgress

	if !appended {
		e.logger.Debug("stage already recorded", "flow_id", flow.ID, "stage", stage)
		return nil
	}

	detail := map[string]any{"status": string(types.StageStatusConfirmed)}
	if txHash != "" {
		detail["txHash"] = txHash
	}
	if height > 0 {
		detail["blockHeight"] = height
	}
	if err := e.store.AppendStatusLog(ctx, &types.StatusLog{
		FlowID:    flow.ID,
		Stage:     stage,
		Chain:     chainKey,
		Source:    types.StageSourcePoller,
		Detail:    detail,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	metrics.StagesConfirmed.WithLabelValues(stage).Inc()
	e.bus.Publish(types.StatusUpdate{
		FlowID:     flow.ID,
		Chain:      chainKey,
		Stage:      stage,
		Status:     types.StageStatusConfirmed,
		TxHash:     txHash,
		OccurredAt: now,
		Source:     types.StageSourcePoller,
	})
	e.logger.Info("stage confirmed", "flow_id", flow.ID, "stage", stage, "chain", chainKey, "tx_hash", txHash, "height", height)
	return nil
}

// confirmChainEntry marks a chain's entry confirmed without appending a new
// observation; multi-observation stages already appended theirs.
func (e *Engine) confirmChainEntry(ctx context.Context, flow *types.Flow, chainKey types.ChainKey, txHash string) error {
	updated, err := e.store.UpdateFlow(ctx, flow.ID, func(f *types.Flow) error {
		entry := f.ChainProgress.Ensure(chainKey)
		now := time.Now().UTC()
		entry.Status = types.StageStatusConfirmed
		entry.LastCheckedAt = &now
		if txHash != "" {
			entry.TxHash = txHash
		}
		return nil
	})
	if err != nil {
		return err
	}
	flow.ChainProgress = updated.ChainProgress
	return nil
}

// completeFlow records the terminal completed status and publishes the
// completion event on the terminating chain.
func (e *Engine) completeFlow(ctx context.Context, flowID string, chainKey types.ChainKey) error {
	_, err := e.store.UpdateFlow(ctx, flowID, func(f *types.Flow) error {
		f.Status = types.FlowStatusCompleted
		return nil
	})
	if errors.Is(err, store.ErrTerminalStatus) {
		e.logger.Debug("flow already terminal, not completing", "flow_id", flowID)
		return nil
	}
	if err != nil {
		return err
	}

	metrics.FlowsFinished.WithLabelValues(string(types.FlowStatusCompleted)).Inc()
	e.bus.Publish(types.StatusUpdate{
		FlowID:     flowID,
		Chain:      chainKey,
		Stage:      "completed",
		Status:     types.StageStatusConfirmed,
		OccurredAt: time.Now().UTC(),
		Source:     types.StageSourcePoller,
	})
	e.logger.Info("flow completed", "flow_id", flowID)
	return nil
}

// handlePollingTimeout records the undetermined verdict for a stage whose
// observation window closed. The re-read guard keeps it from ever
// overwriting a terminal status.
func (e *Engine) handlePollingTimeout(flowID, stageKey string, chainKey types.ChainKey, budget, elapsed time.Duration) {
	// The stage context is gone; timeout bookkeeping uses a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		e.logger.Error("timeout handling: flow re-read failed", "flow_id", flowID, "error", err.Error())
		return
	}
	if current.Status.Terminal() {
		e.logger.Debug("timeout after terminal status, ignoring", "flow_id", flowID, "status", current.Status)
		return
	}

	now := time.Now().UTC()
	_, err = e.store.UpdateFlow(ctx, flowID, func(f *types.Flow) error {
		f.Status = types.FlowStatusUndetermined
		f.ErrorState = map[string]any{
			"reason":     "timeout",
			"stage":      stageKey,
			"timeoutMs":  budget.Milliseconds(),
			"elapsedMs":  elapsed.Milliseconds(),
			"occurredAt": now.Format(time.RFC3339),
		}
		return nil
	})
	if errors.Is(err, store.ErrTerminalStatus) {
		return
	}
	if err != nil {
		e.logger.Error("timeout handling: flow update failed", "flow_id", flowID, "error", err.Error())
		return
	}

	if err := e.store.AppendStatusLog(ctx, &types.StatusLog{
		FlowID: flowID,
		Stage:  stageKey + "_timeout",
		Chain:  chainKey,
		Source: types.StageSourcePoller,
		Detail: map[string]any{
			"status":    string(types.StageStatusFailed),
			"timeoutMs": budget.Milliseconds(),
			"elapsedMs": elapsed.Milliseconds(),
		},
		CreatedAt: now,
	}); err != nil {
		e.logger.Error("timeout handling: status log append failed", "flow_id", flowID, "error", err.Error())
	}

	metrics.FlowsFinished.WithLabelValues(string(types.FlowStatusUndetermined)).Inc()
	e.bus.Publish(types.StatusUpdate{
		FlowID:     flowID,
		Chain:      chainKey,
		Stage:      stageKey + "_timeout",
		Status:     types.StageStatusFailed,
		Message:    "polling window exhausted",
		OccurredAt: now,
		Source:     types.StageSourcePoller,
	})
	e.logger.Warn("stage timed out, flow undetermined",
		"flow_id", flowID, "stage", stageKey, "budget", budget, "elapsed", elapsed)
}

// handleStageFailure is the terminal-status guard on error paths: a stage
// error arriving after the flow went terminal is absorbed; otherwise it
// records the failed verdict.
func (e *Engine) handleStageFailure(flowID string, stageErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		e.logger.Error("failure handling: flow re-read failed", "flow_id", flowID, "error", err.Error())
		return
	}
	if current.Status.Terminal() {
		e.logger.Debug("stage error after terminal status, ignoring",
			"flow_id", flowID, "status", current.Status, "error", stageErr.Error())
		return
	}

	msg := stageErr.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "incomplete") {
		e.logger.Warn("flow failed", "flow_id", flowID, "error", msg)
	} else {
		e.logger.Error("flow failed", "flow_id", flowID, "error", msg)
	}

	now := time.Now().UTC()
	_, err = e.store.UpdateFlow(ctx, flowID, func(f *types.Flow) error {
		f.Status = types.FlowStatusFailed
		f.ErrorState = map[string]any{
			"error":      msg,
			"occurredAt": now.Format(time.RFC3339),
		}
		return nil
	})
	if errors.Is(err, store.ErrTerminalStatus) {
		return
	}
	if err != nil {
		e.logger.Error("failure handling: flow update failed", "flow_id", flowID, "error", err.Error())
		return
	}

	metrics.FlowsFinished.WithLabelValues(string(types.FlowStatusFailed)).Inc()
	e.bus.Publish(types.StatusUpdate{
		FlowID:     flowID,
		Chain:      chainForError(msg),
		Stage:      "flow_failed",
		Status:     types.StageStatusFailed,
		Message:    msg,
		OccurredAt: now,
		Source:     types.StageSourcePoller,
	})
}

// chainForError maps a failed stage's error message onto the chain the
// failure event is published against; stage errors are wrapped with their
// stage key.
func chainForError(msg string) types.ChainKey {
	switch {
	case strings.Contains(msg, "evm_"):
		return types.ChainKeyEVM
	case strings.Contains(msg, "noble_"):
		return types.ChainKeyNoble
	case strings.Contains(msg, "namada_"):
		return types.ChainKeyNamada
	default:
		return types.ChainKeyNoble
	}
}

// stageAlreadyConfirmed reports whether a resume re-entered a stage whose
// observation is already on record.
func (e *Engine) stageAlreadyConfirmed(flow *types.Flow, chainKey types.ChainKey, stage string) bool {
	entry := flow.ChainProgress.Entry(chainKey)
	if entry == nil {
		return false
	}
	for _, s := range entry.Stages {
		if s.Stage == stage && s.Status == types.StageStatusConfirmed {
			e.logger.Debug("stage already confirmed, advancing", "flow_id", flow.ID, "stage", stage)
			return true
		}
	}
	return false
}

// evmTokenAddress resolves the USDC contract for an EVM chain, preferring
// the flow's parameters over the registry entry.
func (e *Engine) evmTokenAddress(chainID string, params types.FlowTrackingParams) string {
	if params.UsdcAddress != "" {
		return params.UsdcAddress
	}
	if info, ok := e.registry.Lookup(chainID); ok && info.Contracts != nil {
		return info.Contracts.USDC
	}
	return ""
}

// tendermintTip adapts a tendermint client's signed height to the unsigned
// tip reader stages consume.
func tendermintTip(client interface {
	LatestBlockHeight(ctx context.Context) (int64, error)
}) func(context.Context) (uint64, error) {
	return func(ctx context.Context) (uint64, error) {
		height, err := client.LatestBlockHeight(ctx)
		if err != nil {
			return 0, err
		}
		if height < 0 {
			return 0, errors.Errorf("negative tip height %d", height)
		}
		return uint64(height), nil
	}
}
