// Package util provides small statistics helpers used by the metrics reports of
// shards and the coordinator.
package util
