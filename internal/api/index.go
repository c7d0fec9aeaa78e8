package api

/*
Package api exposes the batching engine over JSON-RPC 2.0.

Methods:

	batch_submit   [handler, item]  add one item to the handler's pending batch
	batch_pending  []               snapshots of pending batches
	batch_handlers []               registered handlers and their thresholds
	batch_stats    []               coordinator counters
	batch_history  [limit?]         most recent deliveries, newest first
	batch_sweep    []               run a time-trigger sweep now

Service is transport independent. Handler serves it over HTTP POST, the ws
package serves it over WebSocket and adds batch_subscribe.
*/
