// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package store persists the diagnostic record of finished runs: run id, final
status, warnings, partial failures, the path through the graph, timings and a
snapshot of the final state.

Three backends implement Store:

  - MemoryStore keeps the most recent records in process.
  - RedisStore writes JSON values with an optional TTL and a sorted-set index.
  - DatabaseStore writes the run_records table through gorm (postgres, mysql
    or the pure-Go sqlite driver).

Records exist for inspection. A run is never resumed from one.
*/
package store
