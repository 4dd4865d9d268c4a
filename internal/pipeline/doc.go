// Package pipeline implements the crawl stages shared by every catalog
// source: discovery of parent collections, enqueueing of child work items,
// the drain loop, exclusive link-lease queues, cursor-driven listing sweeps,
// completion tracking, and the driver that sequences them.
//
// All cross-worker coordination happens through the injected catalog store.
// Stages keep no shared in-memory state, so any number of processes may run
// the same stage against one store.
package pipeline
