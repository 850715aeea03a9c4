package events

// EventType identifies the kind of event flowing through the bus
type EventType string

const (
	// TradeAppended fires after a trade action commits to the ledger
	TradeAppended EventType = "trade.appended"
	// PositionChanged fires when the aggregator writes a position
	PositionChanged EventType = "position.changed"
	// SnapshotStored fires when a market context snapshot is ingested
	SnapshotStored EventType = "snapshot.stored"
	// RecommendationsReady fires when an advisor sweep produced new recommendations
	RecommendationsReady EventType = "recommendations.ready"
	// ReconciliationFailed fires when incremental and recomputed state diverged
	ReconciliationFailed EventType = "reconciliation.failed"
)

// Event is a single bus message
type Event struct {
	Type EventType
	Data interface{}
}
