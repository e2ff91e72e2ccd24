// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package metrics records Prometheus metrics for workflow runs.

Collector implements workflow.Observer: pass it to Executor.WithObserver and
every step, parallel batch, repair round and finished run is counted and
timed. The run store reports its calls through RecordStoreOp.

A run is a short-lived process, so nothing is scraped. At the end of a run the
registry is written in text format for the node_exporter textfile collector,
pushed to a Pushgateway, or both (Export).
*/
package metrics
