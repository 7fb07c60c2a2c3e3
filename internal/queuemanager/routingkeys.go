// Package queuemanager implements the three AMQP queue submanagers
// (spec.md §4.7): AccountQueueManager (static), OrderQueueManager and
// PositionQueueManager (both dynamic, declared per bound account), all
// sharing one topic exchange through internal/broker.
package queuemanager

import "fmt"

// Routing-key prefixes, the closed set from spec.md §4.7.
const (
	cmdAccountCreate = "bitmex.cmd.account.create"
	cmdAccountUpdate = "bitmex.cmd.account.update"
	cmdAccountDelete = "bitmex.cmd.account.delete"

	cmdOrderCreate = "bitmex.cmd.order.create"
	cmdOrderUpdate = "bitmex.cmd.order.update"
	cmdOrderCancel = "bitmex.cmd.order.cancel"

	cmdPositionClose   = "bitmex.cmd.position.close"
	cmdPositionAddStop = "bitmex.cmd.position.add_stop"
	cmdPositionAddTsl  = "bitmex.cmd.position.add_tsl"

	eventAccountCreated = "bitmex.event.account.created"
	eventAccountUpdated = "bitmex.event.account.updated"
	eventAccountDeleted = "bitmex.event.account.deleted"
	eventAccountHeartbeat = "bitmex.event.account.heartbeat"

	eventOrderCreated  = "bitmex.event.order.created"
	eventOrderUpdated  = "bitmex.event.order.updated"
	eventOrderCanceled = "bitmex.event.order.canceled"

	eventPositionClosed    = "bitmex.event.position.closed"
	eventPositionAddedStop = "bitmex.event.position.added_stop"
	eventPositionAddedTsl  = "bitmex.event.position.added_tsl"
	eventPositionUpdated   = "bitmex.event.position.updated"
)

func withAccount(prefix, accountID string) string {
	return fmt.Sprintf("%s.%s", prefix, accountID)
}

// heartbeatTTLMillis is the broker message TTL for heartbeat publishes
// (spec.md §4.6: "messages expire after 20 s at the broker").
const heartbeatTTLMillis = "20000"

// perAccountQueueExpiryMillis is the `x-expires` argument on the dynamic
// per-account queues (spec.md §4.7: "all with x-expires=1_800_000 ms").
const perAccountQueueExpiryMillis = int32(1_800_000)
