package poller

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"cosmossdk.io/log"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/stablepath/flowtrack/chains/tendermint"
	"github.com/stablepath/flowtrack/testutil"
	"github.com/stablepath/flowtrack/types"
)

type abciEvent = abci.Event

const (
	testForwardingAddr = "noble1cugfxuln9k2zsvey7yuaeckr7avfzffd7d44jp"
	testNamadaReceiver = "tnam1qprxs9n5afscskramwajyrdjw5a64lwweudc0l78"
)

func nobleDepositParams(start uint64) NobleDepositParams {
	return NobleDepositParams{
		PollParams: PollParams{
			FlowID:     "flow-1",
			ChainID:    "noble-testnet",
			StartBlock: start,
			Timeout:    5 * time.Second,
			Interval:   time.Millisecond,
		},
		ForwardingAddress:   testForwardingAddr,
		NamadaReceiver:      testNamadaReceiver,
		ExpectedAmountUusdc: "100000uusdc",
	}
}

func depositBlockAt(height int64) *tendermint.BlockResults {
	return &tendermint.BlockResults{
		Height: height,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCoinReceived,
					AttributeKeyReceiver, testForwardingAddr,
					AttributeKeyAmount, "100000uusdc",
				),
			},
		}},
		FinalizeBlockEvents: []abciEvent{
			testutil.Event(EventTypeIBCTransfer,
				AttributeKeySender, testForwardingAddr,
				AttributeKeyReceiver, testNamadaReceiver,
				AttributeKeyDenom, DenomUusdc,
			),
		},
	}
}

func TestPollForDepositBothConditionsSameBlock(t *testing.T) {
	chain := testutil.NewScriptedTendermint(42569560)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 42569565,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCoinReceived,
					AttributeKeyReceiver, testForwardingAddr,
					AttributeKeyAmount, "100000uusdc",
				),
			},
		}},
		FinalizeBlockEvents: []abciEvent{
			testutil.Event(EventTypeIBCTransfer,
				AttributeKeySender, testForwardingAddr,
				AttributeKeyReceiver, testNamadaReceiver,
				AttributeKeyDenom, DenomUusdc,
			),
		},
	})

	var updates []StageUpdate
	p := NewNoblePoller(chain, log.NewNopLogger())
	res := p.PollForDeposit(context.Background(), nobleDepositParams(42569560), func(u StageUpdate) {
		updates = append(updates, u)
	})

	require.True(t, res.Found)
	require.Equal(t, uint64(42569565), res.BlockHeight)
	require.Len(t, updates, 2)
	require.Equal(t, types.StageNobleCCTPMinted, updates[0].Stage)
	require.Equal(t, types.StageNobleIBCForwarded, updates[1].Stage)
	require.Equal(t, uint64(42569565), updates[0].Height)
}

func TestPollForDepositConditionsAcrossBlocks(t *testing.T) {
	chain := testutil.NewScriptedTendermint(99)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 100,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCoinReceived,
					AttributeKeyReceiver, testForwardingAddr,
					AttributeKeyAmount, "100000uusdc",
				),
			},
		}},
	})
	chain.AddBlock(&tendermint.BlockResults{
		Height: 103,
		FinalizeBlockEvents: []abciEvent{
			testutil.Event(EventTypeIBCTransfer,
				AttributeKeySender, testForwardingAddr,
				AttributeKeyReceiver, testNamadaReceiver,
				AttributeKeyDenom, DenomUusdc,
			),
		},
	})

	var updates []StageUpdate
	p := NewNoblePoller(chain, log.NewNopLogger())
	res := p.PollForDeposit(context.Background(), nobleDepositParams(99), func(u StageUpdate) {
		updates = append(updates, u)
	})

	require.True(t, res.Found)
	require.Equal(t, uint64(103), res.BlockHeight)
	require.Len(t, updates, 2)
	require.Equal(t, uint64(100), updates[0].Height)
	require.Equal(t, uint64(103), updates[1].Height)
}

func TestPollForDepositNonMatchingAmount(t *testing.T) {
	chain := testutil.NewScriptedTendermint(9)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 10,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCoinReceived,
					AttributeKeyReceiver, testForwardingAddr,
					AttributeKeyAmount, "99999uusdc",
				),
			},
		}},
	})

	params := nobleDepositParams(9)
	params.Timeout = 100 * time.Millisecond

	var updates []StageUpdate
	p := NewNoblePoller(chain, log.NewNopLogger())
	res := p.PollForDeposit(context.Background(), params, func(u StageUpdate) {
		updates = append(updates, u)
	})

	require.False(t, res.Found)
	require.Empty(t, updates)
}

func TestPollForDepositSkipsFailedTxs(t *testing.T) {
	chain := testutil.NewScriptedTendermint(9)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 10,
		TxsResults: []tendermint.TxResult{{
			Code: 11,
			Events: []abciEvent{
				testutil.Event(EventTypeCoinReceived,
					AttributeKeyReceiver, testForwardingAddr,
					AttributeKeyAmount, "100000uusdc",
				),
			},
		}},
	})

	params := nobleDepositParams(9)
	params.Timeout = 100 * time.Millisecond

	res := NewNoblePoller(chain, log.NewNopLogger()).PollForDeposit(context.Background(), params, nil)
	require.False(t, res.Found)
}

func TestPollForDepositAdvancesPastErrorHeights(t *testing.T) {
	chain := testutil.NewScriptedTendermint(9)
	chain.FailHeight(10, errors.New("boom"))
	chain.AddBlock(depositBlockAt(11))

	res := NewNoblePoller(chain, log.NewNopLogger()).PollForDeposit(context.Background(), nobleDepositParams(10), nil)
	require.True(t, res.Found)
	require.Equal(t, uint64(11), res.BlockHeight)
}

func TestPollForDepositCancellation(t *testing.T) {
	chain := testutil.NewScriptedTendermint(5)

	ctx, cancel := context.WithCancel(context.Background())
	params := nobleDepositParams(1)
	params.Timeout = time.Minute
	params.Interval = time.Millisecond

	done := make(chan PollResult, 1)
	go func() {
		done <- NewNoblePoller(chain, log.NewNopLogger()).PollForDeposit(ctx, params, nil)
	}()

	cancel()
	select {
	case res := <-done:
		require.False(t, res.Found)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not observe cancellation")
	}
}

func TestPollForOrbiterBothConditions(t *testing.T) {
	memo := `{"dest":"0xabc"}`
	packet := `{"amount":"250000","denom":"transfer/channel-136/uusdc","receiver":"` + testForwardingAddr + `","sender":"tnam1sender","memo":` + mustJSONString(t, memo) + `}`

	chain := testutil.NewScriptedTendermint(499)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 500,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCCTPBurn,
					AttributeKeyAmount, `"250000"`,
					AttributeKeyDestinationCaller, `"Y2FsbGVy"`,
					AttributeKeyMintRecipient, `"cmVjaXBpZW50"`,
					AttributeKeyDestinationDomain, `"0"`,
				),
				testutil.Event(EventTypeWriteAck,
					AttributeKeyPacketAck, `{"result":"AQ=="}`,
					AttributeKeyPacketData, base64.StdEncoding.EncodeToString([]byte(packet)),
				),
			},
		}},
	})

	params := NobleOrbiterParams{
		PollParams: PollParams{
			FlowID:     "flow-2",
			ChainID:    "noble-testnet",
			StartBlock: 500,
			Timeout:    5 * time.Second,
			Interval:   time.Millisecond,
		},
		Receiver:             testForwardingAddr,
		Amount:               "250000",
		MemoJSON:             memo,
		DestinationCallerB64: "Y2FsbGVy",
		MintRecipientB64:     "cmVjaXBpZW50",
		DestinationDomain:    "0",
	}

	var updates []StageUpdate
	res := NewNoblePoller(chain, log.NewNopLogger()).PollForOrbiter(context.Background(), params, func(u StageUpdate) {
		updates = append(updates, u)
	})

	require.True(t, res.Found)
	require.Equal(t, uint64(500), res.BlockHeight)
	require.Len(t, updates, 2)
	require.Equal(t, types.StageNobleCCTPBurned, updates[0].Stage)
	require.Equal(t, types.StageNobleIBCReceived, updates[1].Stage)
}

func TestPollForOrbiterRejectsWrongBurnIdentity(t *testing.T) {
	chain := testutil.NewScriptedTendermint(499)
	chain.AddBlock(&tendermint.BlockResults{
		Height: 500,
		TxsResults: []tendermint.TxResult{{
			Events: []abciEvent{
				testutil.Event(EventTypeCCTPBurn,
					AttributeKeyAmount, `"250000"`,
					AttributeKeyDestinationCaller, `"somebody-else"`,
					AttributeKeyMintRecipient, `"cmVjaXBpZW50"`,
					AttributeKeyDestinationDomain, `"0"`,
				),
			},
		}},
	})

	params := NobleOrbiterParams{
		PollParams: PollParams{
			FlowID:     "flow-2",
			ChainID:    "noble-testnet",
			StartBlock: 500,
			Timeout:    100 * time.Millisecond,
			Interval:   time.Millisecond,
		},
		Receiver:             testForwardingAddr,
		Amount:               "250000",
		DestinationCallerB64: "Y2FsbGVy",
		MintRecipientB64:     "cmVjaXBpZW50",
		DestinationDomain:    "0",
	}

	var updates []StageUpdate
	res := NewNoblePoller(chain, log.NewNopLogger()).PollForOrbiter(context.Background(), params, func(u StageUpdate) {
		updates = append(updates, u)
	})

	require.False(t, res.Found)
	require.Empty(t, updates)
}
