package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains"
)

type scriptedBackend struct {
	blockNumberCalls int
	blockNumberErrs  []error
	blockNumber      uint64

	logs    []ethtypes.Log
	logsErr error

	receipt    *ethtypes.Receipt
	receiptErr error
}

func (s *scriptedBackend) BlockNumber(context.Context) (uint64, error) {
	s.blockNumberCalls++
	if len(s.blockNumberErrs) > 0 {
		err := s.blockNumberErrs[0]
		s.blockNumberErrs = s.blockNumberErrs[1:]
		return 0, err
	}
	return s.blockNumber, nil
}

func (s *scriptedBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return s.logs, s.logsErr
}

func (s *scriptedBackend) TransactionByHash(context.Context, common.Hash) (*ethtypes.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (s *scriptedBackend) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return s.receipt, s.receiptErr
}

func newTestClient(b backend) *client {
	c := newClient(b, log.NewNopLogger())
	c.retry.BaseDelay = 0
	return c
}

func TestBlockNumberRetriesTransient(t *testing.T) {
	b := &scriptedBackend{
		blockNumberErrs: []error{
			rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"},
			errors.New("connection reset"),
		},
		blockNumber: 42,
	}

	height, err := newTestClient(b).BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)
	require.Equal(t, 3, b.blockNumberCalls)
}

func TestBlockNumberFailsFastOnPermanent(t *testing.T) {
	b := &scriptedBackend{
		blockNumberErrs: []error{
			rpc.HTTPError{StatusCode: 404, Status: "404 Not Found"},
		},
	}

	_, err := newTestClient(b).BlockNumber(context.Background())
	require.Error(t, err)
	require.True(t, chains.IsPermanent(err))
	require.Equal(t, 1, b.blockNumberCalls)
}

func TestFilterLogsPassthrough(t *testing.T) {
	want := []ethtypes.Log{{BlockNumber: 7, TxHash: common.HexToHash("0x1")}}
	b := &scriptedBackend{logs: want}

	logs, err := newTestClient(b).FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(1),
		ToBlock:   big.NewInt(10),
	})
	require.NoError(t, err)
	require.Equal(t, want, logs)
}

func TestTransactionByHashNotFoundIsNil(t *testing.T) {
	tx, pending, err := newTestClient(&scriptedBackend{}).TransactionByHash(context.Background(), common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, tx)
	require.False(t, pending)
}

func TestTransactionReceiptUnminedIsNil(t *testing.T) {
	b := &scriptedBackend{receiptErr: ethereum.NotFound}

	receipt, err := newTestClient(b).TransactionReceipt(context.Background(), common.HexToHash("0xdead"))
	require.NoError(t, err)
	require.Nil(t, receipt)
}

func TestTransactionReceiptFound(t *testing.T) {
	want := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9)}
	b := &scriptedBackend{receipt: want}

	receipt, err := newTestClient(b).TransactionReceipt(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	require.Equal(t, want, receipt)
}
