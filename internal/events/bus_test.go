package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var first, second []Event
	bus.Subscribe(TradeAppended, func(e Event) { first = append(first, e) })
	bus.Subscribe(TradeAppended, func(e Event) { second = append(second, e) })
	bus.Subscribe(SnapshotStored, func(e Event) { t.Fatal("wrong event type delivered") })

	bus.Emit(TradeAppended, TradeAppendedData{OwnerID: "alice", Asset: "BTC"})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	data, ok := first[0].Data.(TradeAppendedData)
	assert.True(t, ok)
	assert.Equal(t, "alice", data.OwnerID)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(PositionChanged, func(e Event) { panic("boom") })
	bus.Subscribe(PositionChanged, func(e Event) { delivered = true })

	bus.Emit(PositionChanged, PositionChangedData{OwnerID: "alice"})
	assert.True(t, delivered)
}

func TestBus_EmitWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Emit(RecommendationsReady, RecommendationsReadyData{OwnerID: "alice", Count: 2})
}
