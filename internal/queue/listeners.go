package queue

import (
	"time"

	"github.com/aristath/vantage/internal/events"
)

// RegisterListeners wires domain events to background work. Listeners only
// enqueue; the actual work runs on queue workers.
func RegisterListeners(bus *events.Bus, manager *Manager) {
	// A fresh trade means the pair should be verified soon and the owner's
	// recommendations re-evaluated. Both are deduped so a burst of fills
	// on one pair costs one pass each.
	bus.Subscribe(events.TradeAppended, func(evt events.Event) {
		data, ok := evt.Data.(events.TradeAppendedData)
		if !ok {
			return
		}
		manager.EnqueueIfShouldRun(Job{
			Type:     JobReconcilePositions,
			Key:      data.OwnerID + "/" + data.Asset,
			Priority: PriorityNormal,
			Payload:  map[string]string{"owner_id": data.OwnerID, "asset": data.Asset},
		}, time.Minute)
		manager.EnqueueIfShouldRun(Job{
			Type:     JobAdvisorSweep,
			Key:      data.OwnerID,
			Priority: PriorityNormal,
			Payload:  map[string]string{"owner_id": data.OwnerID},
		}, 5*time.Minute)
	})

	// New market context can change any owner's picture.
	bus.Subscribe(events.SnapshotStored, func(evt events.Event) {
		manager.EnqueueIfShouldRun(Job{
			Type:     JobAdvisorSweep,
			Key:      "all",
			Priority: PriorityLow,
		}, 5*time.Minute)
	})

	// A detected mismatch warrants a prompt full verification pass in case
	// the drift is systemic.
	bus.Subscribe(events.ReconciliationFailed, func(evt events.Event) {
		manager.EnqueueIfShouldRun(Job{
			Type:     JobReconcilePositions,
			Key:      "all",
			Priority: PriorityHigh,
		}, 30*time.Minute)
	})
}
