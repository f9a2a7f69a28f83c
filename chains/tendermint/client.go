// Package tendermint is a REST client for the CometBFT RPC interface as
// served by Noble and Namada full nodes. It layers per-request timeouts,
// retry with backoff and fault classification over plain HTTP GETs.
package tendermint

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains"
)

const (
	defaultRequestTimeout = 15 * time.Second

	// Block results on busy chains run to megabytes; cap reads defensively
	// below anything a healthy node would send.
	maxResponseBytes = 32 << 20
)

// Client is the read surface consumed by the Noble and Namada pollers.
type Client interface {
	// LatestBlockHeight returns the chain tip height.
	LatestBlockHeight(ctx context.Context) (int64, error)
	// BlockResults returns the execution results for a height, or (nil, nil)
	// when the height is not yet available on the node.
	BlockResults(ctx context.Context, height int64) (*BlockResults, error)
	// Transaction returns a committed transaction by hash, or (nil, nil)
	// when the node does not know it yet.
	Transaction(ctx context.Context, hash string) (*Tx, error)
	// SearchTransactions pages through the node's tx index.
	SearchTransactions(ctx context.Context, query string, page, perPage int) (*TxSearchResult, error)
}

// HTTPClient implements Client against one RPC base URL.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	logger  log.Logger
	retry   chains.RetryConfig
}

var _ Client = (*HTTPClient)(nil)

// NewClient builds a client for an RPC endpoint such as
// https://noble-rpc.polkachu.com.
func NewClient(baseURL string, logger log.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With(log.ModuleKey, "tendermint-client"),
		retry:   chains.DefaultRetryConfig(),
	}
}

func (c *HTTPClient) LatestBlockHeight(ctx context.Context) (int64, error) {
	var wire statusWire
	if err := c.call(ctx, "/status", nil, &wire); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(wire.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse latest_block_height %q", wire.SyncInfo.LatestBlockHeight)
	}
	return height, nil
}

func (c *HTTPClient) BlockResults(ctx context.Context, height int64) (*BlockResults, error) {
	params := url.Values{}
	params.Set("height", strconv.FormatInt(height, 10))

	var wire blockResultsWire
	if err := c.call(ctx, "/block_results", params, &wire); err != nil {
		if isFutureHeight(err) {
			c.logger.Debug("block results not yet available", "height", height)
			return nil, nil
		}
		return nil, err
	}
	return wire.decode()
}

func (c *HTTPClient) Transaction(ctx context.Context, hash string) (*Tx, error) {
	params := url.Values{}
	params.Set("hash", normalizeTxHash(hash))

	var wire txWire
	if err := c.call(ctx, "/tx", params, &wire); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return wire.decode()
}

func (c *HTTPClient) SearchTransactions(ctx context.Context, query string, page, perPage int) (*TxSearchResult, error) {
	params := url.Values{}
	params.Set("query", strconv.Quote(query))
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}

	var wire txSearchWire
	if err := c.call(ctx, "/tx_search", params, &wire); err != nil {
		return nil, err
	}

	out := &TxSearchResult{}
	if wire.TotalCount != "" {
		n, err := strconv.Atoi(wire.TotalCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parse total_count %q", wire.TotalCount)
		}
		out.TotalCount = n
	}
	for i := range wire.Txs {
		tx, err := wire.Txs[i].decode()
		if err != nil {
			return nil, err
		}
		out.Txs = append(out.Txs, *tx)
	}
	return out, nil
}

// call runs one GET inside the retry loop.
func (c *HTTPClient) call(ctx context.Context, path string, params url.Values, result any) error {
	return chains.Retry(ctx, c.logger, c.retry, path, func(ctx context.Context) error {
		return c.get(ctx, path, params, result)
	})
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, result any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "read %s response", path)
	}

	// CometBFT reports evaluation errors (unknown tx, future height) as a
	// JSON-RPC envelope error under HTTP 500, so the envelope is inspected
	// before the status code. Retrying the identical request cannot change
	// an envelope error.
	var envelope rpcResponse
	envErr := json.Unmarshal(body, &envelope)
	if envErr == nil && envelope.Error != nil {
		return chains.Permanent(envelope.Error)
	}

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("%s: unexpected status %d", path, resp.StatusCode)
		if chains.PermanentHTTPStatus(resp.StatusCode) {
			return chains.Permanent(err)
		}
		return err
	}

	if envErr != nil {
		return errors.Wrapf(envErr, "decode %s envelope", path)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return errors.Wrapf(err, "decode %s result", path)
	}
	return nil
}

// normalizeTxHash renders a hash the way /tx expects: 0x-prefixed hex.
func normalizeTxHash(hash string) string {
	if strings.HasPrefix(hash, "0x") || strings.HasPrefix(hash, "0X") {
		return hash
	}
	return "0x" + hash
}

func isFutureHeight(err error) bool {
	return err != nil && strings.Contains(err.Error(), "must be less than or equal to")
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
