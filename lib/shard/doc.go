// Package shard implements a shard node of the content store.
//
// A shard owns a bounded Store of entries partitioned by tag. Once per tick its
// SummaryAgent regenerates the shard's effective index (debounced by the reindex
// interval) and publishes it to the coordinator:
//
//	Idle ──tick──▶ Publishing(token) ──push ok, token matches──▶ Committed
//	  ▲                  │
//	  └────push failed───┘
//
// Ticks are allowed to overlap. A tick that finds a push in flight only refreshes
// the local index, and a completion whose token no longer matches the current
// state is dropped.
//
// Reads are scoped to the caller: ListByTag returns the caller's entries plus all
// anonymous ones, while ListAll is reserved for moderators and controllers.
package shard
