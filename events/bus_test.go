package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/types"
)

func update(flowID, stage string) types.StatusUpdate {
	return types.StatusUpdate{
		FlowID:     flowID,
		Chain:      types.ChainKeyNoble,
		Stage:      stage,
		Status:     types.StageStatusConfirmed,
		OccurredAt: time.Now().UTC(),
		Source:     types.StageSourcePoller,
	}
}

func TestBusDeliversPerFlow(t *testing.T) {
	bus := NewBus(log.NewNopLogger())

	var gotA, gotB []types.StatusUpdate
	unsubA := bus.Subscribe("flow-a", func(u types.StatusUpdate) { gotA = append(gotA, u) })
	defer unsubA()
	unsubB := bus.Subscribe("flow-b", func(u types.StatusUpdate) { gotB = append(gotB, u) })
	defer unsubB()

	bus.Publish(update("flow-a", "noble_cctp_minted"))
	bus.Publish(update("flow-a", "noble_ibc_forwarded"))
	bus.Publish(update("flow-b", "namada_received"))

	require.Len(t, gotA, 2)
	require.Len(t, gotB, 1)
	require.Equal(t, "namada_received", gotB[0].Stage)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(log.NewNopLogger())

	var got []types.StatusUpdate
	unsub := bus.Subscribe("flow-a", func(u types.StatusUpdate) { got = append(got, u) })

	bus.Publish(update("flow-a", "noble_cctp_minted"))
	unsub()
	unsub() // second call is a no-op
	bus.Publish(update("flow-a", "noble_ibc_forwarded"))

	require.Len(t, got, 1)
	require.Zero(t, bus.SubscriberCount("flow-a"))
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(log.NewNopLogger())
	bus.Publish(update("flow-x", "noble_cctp_minted")) // must not panic
}

func TestBusMultipleSubscribersSameFlow(t *testing.T) {
	bus := NewBus(log.NewNopLogger())

	count := 0
	unsub1 := bus.Subscribe("flow-a", func(types.StatusUpdate) { count++ })
	defer unsub1()
	unsub2 := bus.Subscribe("flow-a", func(types.StatusUpdate) { count++ })
	defer unsub2()

	require.Equal(t, 2, bus.SubscriberCount("flow-a"))
	bus.Publish(update("flow-a", "noble_cctp_minted"))
	require.Equal(t, 2, count)
}
