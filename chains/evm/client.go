// Package evm adapts go-ethereum's JSON-RPC client to the read-only surface
// the pollers need, adding per-request timeouts, retry with backoff and
// fault classification.
package evm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains"
)

const defaultRequestTimeout = 10 * time.Second

// Client is the read surface consumed by the EVM poller and the burn
// confirmation stage.
type Client interface {
	// BlockNumber returns the current chain tip.
	BlockNumber(ctx context.Context) (uint64, error)
	// FilterLogs queries logs by address, topics and block range.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	// TransactionByHash returns the transaction, or (nil, false, nil) when unknown.
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	// TransactionReceipt returns the receipt, or (nil, nil) while the
	// transaction is unmined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// backend is the slice of *ethclient.Client the adapter consumes; tests
// substitute a scripted implementation.
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

type client struct {
	backend        backend
	logger         log.Logger
	retry          chains.RetryConfig
	requestTimeout time.Duration
}

var _ Client = (*client)(nil)

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(rawurl string, logger log.Logger) (Client, error) {
	ec, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "dial evm rpc %s", rawurl)
	}
	return newClient(ec, logger), nil
}

func newClient(b backend, logger log.Logger) *client {
	return &client{
		backend:        b,
		logger:         logger.With(log.ModuleKey, "evm-client"),
		retry:          chains.DefaultRetryConfig(),
		requestTimeout: defaultRequestTimeout,
	}
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return classify(err)
		}
		height = n
		return nil
	})
	return height, err
}

func (c *client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var logs []ethtypes.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		out, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return classify(err)
		}
		logs = out
		return nil
	})
	return logs, err
}

func (c *client) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	var (
		tx      *ethtypes.Transaction
		pending bool
	)
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		out, isPending, err := c.backend.TransactionByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return nil
			}
			return classify(err)
		}
		tx, pending = out, isPending
		return nil
	})
	return tx, pending, err
}

func (c *client) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		out, err := c.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			// unmined is not a fault
			if errors.Is(err, ethereum.NotFound) {
				return nil
			}
			return classify(err)
		}
		receipt = out
		return nil
	})
	return receipt, err
}

// call wraps one RPC method in the retry loop with a per-attempt timeout.
func (c *client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return chains.Retry(ctx, c.logger, c.retry, op, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return fn(ctx)
	})
}

// classify maps go-ethereum errors onto the shared fault model. HTTP errors
// carry their status; everything else (network, decode) is transient.
func classify(err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && chains.PermanentHTTPStatus(httpErr.StatusCode) {
		return chains.Permanent(err)
	}
	return err
}
