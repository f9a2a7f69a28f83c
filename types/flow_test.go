package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowStatusTerminal(t *testing.T) {
	testCases := []struct {
		status   FlowStatus
		terminal bool
	}{
		{FlowStatusPending, false},
		{FlowStatusCompleted, true},
		{FlowStatusFailed, true},
		{FlowStatusUndetermined, true},
		{FlowStatus(""), false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.terminal, tc.status.Terminal(), "status %q", tc.status)
	}
}

func TestNewFlowSeedsChainProgress(t *testing.T) {
	deposit := NewFlow(FlowTypeDeposit, "sepolia", "namada-testnet", "0xabc", nil)
	require.NotEmpty(t, deposit.ID)
	require.Equal(t, FlowStatusPending, deposit.Status)
	require.Nil(t, deposit.ChainProgress.EVM)
	require.NotNil(t, deposit.ChainProgress.Noble)
	require.NotNil(t, deposit.ChainProgress.Namada)
	require.Equal(t, StageStatusPending, deposit.ChainProgress.Noble.Status)

	payment := NewFlow(FlowTypePayment, "namada-testnet", "sepolia", "", nil)
	require.NotNil(t, payment.ChainProgress.EVM)
	require.NotNil(t, payment.ChainProgress.Noble)
	require.NotNil(t, payment.ChainProgress.Namada)
}

func TestChainProgressEnsure(t *testing.T) {
	var p ChainProgress
	require.Nil(t, p.Entry(ChainKeyEVM))

	e := p.Ensure(ChainKeyEVM)
	require.NotNil(t, e)
	require.Equal(t, StageStatusPending, e.Status)

	// Ensure is idempotent and returns the same entry.
	e.TxHash = "0xabc"
	again := p.Ensure(ChainKeyEVM)
	require.Equal(t, "0xabc", again.TxHash)
	require.Same(t, e, again)
}

func TestParseChainKey(t *testing.T) {
	for _, valid := range []string{"evm", "noble", "namada"} {
		key, err := ParseChainKey(valid)
		require.NoError(t, err)
		require.Equal(t, ChainKey(valid), key)
	}

	_, err := ParseChainKey("osmosis")
	require.Error(t, err)
}

func TestParseFlowType(t *testing.T) {
	for _, valid := range []string{"deposit", "payment"} {
		ft, err := ParseFlowType(valid)
		require.NoError(t, err)
		require.Equal(t, FlowType(valid), ft)
	}

	_, err := ParseFlowType("swap")
	require.Error(t, err)
}
