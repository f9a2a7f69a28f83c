package tendermint

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/chains"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, log.NewNopLogger())
	c.retry.BaseDelay = 0
	return c
}

func TestLatestBlockHeight(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{"sync_info":{"latest_block_height":"42569570"}}}`)
	})

	height, err := c.LatestBlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42569570), height)
}

func TestBlockResultsFinalizeEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/block_results", r.URL.Path)
		require.Equal(t, "42569565", r.URL.Query().Get("height"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{
			"height":"42569565",
			"txs_results":[{"code":0,"log":"","events":[
				{"type":"coin_received","attributes":[
					{"key":"receiver","value":"noble1cugfxuln9k2zsvey7yuaeckr7avfzffd7d44jp","index":true},
					{"key":"amount","value":"100000uusdc","index":true}
				]}
			]}],
			"finalize_block_events":[
				{"type":"ibc_transfer","attributes":[
					{"key":"sender","value":"noble1cugfxuln9k2zsvey7yuaeckr7avfzffd7d44jp"},
					{"key":"receiver","value":"tnam1qprxs9n5afscskramwajyrdjw5a64lwweudc0l78"},
					{"key":"denom","value":"uusdc"}
				]}
			]
		}}`)
	})

	res, err := c.BlockResults(context.Background(), 42569565)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, int64(42569565), res.Height)
	require.Len(t, res.TxsResults, 1)
	require.Len(t, res.TxsResults[0].Events, 1)
	require.Equal(t, "coin_received", res.TxsResults[0].Events[0].Type)
	require.Equal(t, "100000uusdc", res.TxsResults[0].Events[0].Attributes[1].Value)
	require.Len(t, res.FinalizeBlockEvents, 1)
	require.Empty(t, res.EndBlockEvents)
}

func TestBlockResultsEndBlockEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{
			"height":"3418841",
			"txs_results":null,
			"end_block_events":[
				{"type":"message","attributes":[{"key":"inner-tx-hash","value":"DCAB"}]}
			]
		}}`)
	})

	res, err := c.BlockResults(context.Background(), 3418841)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.EndBlockEvents, 1)
	require.Equal(t, "inner-tx-hash", res.EndBlockEvents[0].Attributes[0].Key)
}

func TestBlockResultsFutureHeightIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"error":{"code":-32603,"message":"Internal error","data":"height 99 must be less than or equal to the current blockchain height 42"}}`)
	})

	res, err := c.BlockResults(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestBlockResultsTransientRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream blew up")
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{"height":"7","txs_results":[]}}`)
	})

	res, err := c.BlockResults(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 3, calls)
}

func TestBlockResultsPermanentNoRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.BlockResults(context.Background(), 7)
	require.Error(t, err)
	require.True(t, chains.IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestTransactionFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx", r.URL.Path)
		require.Equal(t, "0xDCAB74", r.URL.Query().Get("hash"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{
			"hash":"DCAB74","height":"3418841","index":0,
			"tx_result":{"code":0,"log":"","events":[]}
		}}`)
	})

	tx, err := c.Transaction(context.Background(), "DCAB74")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, int64(3418841), tx.Height)
	require.True(t, tx.Success())
}

func TestTransactionNotFoundIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"error":{"code":-32603,"message":"Internal error","data":"tx (DCAB74) not found"}}`)
	})

	tx, err := c.Transaction(context.Background(), "DCAB74")
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestSearchTransactionsQuotesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tx_search", r.URL.Path)
		require.Equal(t, `"write_acknowledgement.packet_sequence=4"`, r.URL.Query().Get("query"))
		require.Equal(t, "1", r.URL.Query().Get("page"))
		require.Equal(t, "50", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":-1,"result":{
			"txs":[{"hash":"AA","height":"12","index":1,"tx_result":{"code":0,"events":[]}}],
			"total_count":"1"
		}}`)
	})

	res, err := c.SearchTransactions(context.Background(), "write_acknowledgement.packet_sequence=4", 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	require.Len(t, res.Txs, 1)
	require.Equal(t, int64(12), res.Txs[0].Height)
}

func TestNormalizeTxHash(t *testing.T) {
	require.Equal(t, "0xAB", normalizeTxHash("AB"))
	require.Equal(t, "0xAB", normalizeTxHash("0xAB"))
	require.Equal(t, "0XAB", normalizeTxHash("0XAB"))
}
