package poller

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/testutil"
)

var (
	testToken     = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	testRecipient = common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	testMintTx    = common.HexToHash("0xd8294b1c510caa839db96ca7a9992c3e53ed082b1e9467a8311a0747435d3759")
)

func mintLog(block uint64, amount string) ethtypes.Log {
	value := uint256.MustFromDecimal(amount).Bytes32()
	return ethtypes.Log{
		Address: testToken,
		Topics: []common.Hash{
			transferEventSig,
			{}, // from the zero address
			common.BytesToHash(testRecipient.Bytes()),
		},
		Data:        value[:],
		BlockNumber: block,
		TxHash:      testMintTx,
	}
}

func mintParams(start uint64) UsdcMintParams {
	return UsdcMintParams{
		PollParams: PollParams{
			FlowID:     "flow-1",
			ChainID:    "sepolia",
			StartBlock: start,
			Timeout:    5 * time.Second,
			Interval:   time.Millisecond,
		},
		TokenAddress:    testToken.Hex(),
		Recipient:       testRecipient.Hex(),
		AmountBaseUnits: "100000",
	}
}

func TestPollUsdcMintMatchesExactAmount(t *testing.T) {
	chain := testutil.NewScriptedEVM(99)
	chain.AddLog(mintLog(100, "100000"))

	res := NewEVMPoller(chain, log.NewNopLogger()).PollUsdcMint(context.Background(), mintParams(99), nil)

	require.True(t, res.Found)
	require.Equal(t, testMintTx.Hex(), res.TxHash)
	require.Equal(t, uint64(100), res.BlockHeight)
}

func TestPollUsdcMintRejectsWrongAmount(t *testing.T) {
	chain := testutil.NewScriptedEVM(99)
	chain.AddLog(mintLog(100, "99999"))

	params := mintParams(99)
	params.Timeout = 100 * time.Millisecond

	res := NewEVMPoller(chain, log.NewNopLogger()).PollUsdcMint(context.Background(), params, nil)
	require.False(t, res.Found)
}

func TestPollUsdcMintInvalidAmountParam(t *testing.T) {
	chain := testutil.NewScriptedEVM(99)

	params := mintParams(99)
	params.AmountBaseUnits = "not-a-number"

	res := NewEVMPoller(chain, log.NewNopLogger()).PollUsdcMint(context.Background(), params, nil)
	require.False(t, res.Found)
}

func TestPollBurnConfirmation(t *testing.T) {
	burnTx := common.HexToHash("0xabc1230000000000000000000000000000000000000000000000000000000000")
	chain := testutil.NewScriptedEVM(200)
	chain.AddReceipt(burnTx, &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(150),
		Logs: []*ethtypes.Log{{
			Address: testToken,
			Topics: []common.Hash{
				transferEventSig,
				common.BytesToHash(testRecipient.Bytes()),
				{}, // burn: transfer to the zero address
			},
		}},
	})

	params := BurnParams{
		PollParams: PollParams{
			FlowID:   "flow-1",
			ChainID:  "sepolia",
			Timeout:  5 * time.Second,
			Interval: time.Millisecond,
		},
		TxHash:       burnTx.Hex(),
		TokenAddress: testToken.Hex(),
	}

	res := NewEVMPoller(chain, log.NewNopLogger()).PollBurnConfirmation(context.Background(), params, nil)
	require.True(t, res.Found)
	require.Equal(t, uint64(150), res.BlockHeight)
}

func TestPollBurnConfirmationFailedReceipt(t *testing.T) {
	burnTx := common.HexToHash("0xdef4560000000000000000000000000000000000000000000000000000000000")
	chain := testutil.NewScriptedEVM(200)
	chain.AddReceipt(burnTx, &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusFailed,
		BlockNumber: big.NewInt(150),
	})

	params := BurnParams{
		PollParams: PollParams{
			FlowID:   "flow-1",
			ChainID:  "sepolia",
			Timeout:  time.Second,
			Interval: time.Millisecond,
		},
		TxHash:       burnTx.Hex(),
		TokenAddress: testToken.Hex(),
	}

	res := NewEVMPoller(chain, log.NewNopLogger()).PollBurnConfirmation(context.Background(), params, nil)
	require.False(t, res.Found)
}
