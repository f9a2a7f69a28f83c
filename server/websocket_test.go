package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stablepath/flowtrack/types"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return msg
}

func TestWebsocketSubscribeDeliversUpdates(t *testing.T) {
	h := newServerHarness(t)
	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)

	hello := readFrame(t, conn)
	require.Equal(t, "connected", gjson.GetBytes(hello, "type").String())
	require.NotEmpty(t, gjson.GetBytes(hello, "connectionId").String())

	flowID := "11111111-2222-3333-4444-555555555555"
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "flowId": flowID}))
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(flowID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.bus.Publish(types.StatusUpdate{
		FlowID:     flowID,
		Chain:      types.ChainKeyNoble,
		Stage:      types.StageNobleCCTPMinted,
		Status:     types.StageStatusConfirmed,
		OccurredAt: time.Now().UTC(),
		Source:     types.StageSourcePoller,
	})

	frame := readFrame(t, conn)
	require.Equal(t, "status-update", gjson.GetBytes(frame, "type").String())
	require.Equal(t, flowID, gjson.GetBytes(frame, "data.flowId").String())
	require.Equal(t, types.StageNobleCCTPMinted, gjson.GetBytes(frame, "data.stage").String())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe", "flowId": flowID}))
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(flowID) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocketDisconnectDropsSubscriptions(t *testing.T) {
	h := newServerHarness(t)
	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)
	readFrame(t, conn) // connected

	flowID := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "flowId": flowID}))
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(flowID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.bus.SubscriberCount(flowID) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
