package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validEntry() *TradeAction {
	return &TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      ActionEntry,
		Direction: DirectionLong,
		Price:     100,
		Quantity:  1.0,
		Leverage:  1.0,
	}
}

func TestTradeAction_Validate(t *testing.T) {
	assert.NoError(t, validEntry().Validate())

	tests := []struct {
		name   string
		mutate func(*TradeAction)
	}{
		{"missing owner", func(a *TradeAction) { a.OwnerID = " " }},
		{"missing asset", func(a *TradeAction) { a.Asset = "" }},
		{"unknown kind", func(a *TradeAction) { a.Kind = "HOLD" }},
		{"unknown direction", func(a *TradeAction) { a.Direction = "SIDEWAYS" }},
		{"zero quantity", func(a *TradeAction) { a.Quantity = 0 }},
		{"negative price", func(a *TradeAction) { a.Price = -1 }},
		{"zero leverage", func(a *TradeAction) { a.Leverage = 0 }},
		{"negative fees", func(a *TradeAction) { a.Fees = -0.1 }},
		{"zero stop", func(a *TradeAction) { zero := 0.0; a.StopPrice = &zero }},
		{"allocation over 100", func(a *TradeAction) { v := 101.0; a.MaxAllocation = &v }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validEntry()
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(), ErrValidation)
		})
	}
}

func TestTradeAction_ModifyRiskSkipsPriceAndQuantity(t *testing.T) {
	stop := 80.0
	a := &TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      ActionModifyRisk,
		Direction: DirectionLong,
		Leverage:  1.0,
		StopPrice: &stop,
	}
	assert.NoError(t, a.Validate())
}

func TestDirection_Sign(t *testing.T) {
	assert.Equal(t, 1.0, DirectionLong.Sign())
	assert.Equal(t, -1.0, DirectionShort.Sign())
}

func TestNormalizeAsset(t *testing.T) {
	assert.Equal(t, "BTC", NormalizeAsset(" btc "))
	assert.Equal(t, "ETH-PERP", NormalizeAsset("eth-perp"))
}
