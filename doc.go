/*
Package tbucket provides a persistent, multi-process token-bucket rate
limiting engine backed by sqlite.

It lets cooperating callers - potentially across multiple OS processes on
the same machine - share rate-limit state against one or more external
resources (typically third-party APIs with low request quotas), so the
combined rate of requests stays within a configured envelope.

# Bucket variants

Three disciplines are provided, all identified by a (path, key) pair:

  - Classic: continuous linear refill up to a ceiling. State is a single
    (tokens, last-update) row per key in the "tbf" table.
  - Scheduled: like Classic, but resets to full at fixed wall-clock
    boundaries (every period seconds since the epoch) instead of
    refilling continuously.
  - TimeSeries: enforces "exactly N events per sliding window of W" by
    recording the timestamp of every consumed token in its own
    "ts_token_bucket" table.

# Storage

Each bucket value opens its own connection to a sqlite file (see
package store), capped at one physical
connection so that every BEGIN IMMEDIATE it issues serializes the way a
single caller's would. Independent bucket values - even in different
processes - coordinate through sqlite's own file locking and busy
timeout, not through any in-process registry.

# Blocking vs non-blocking

TryConsume never blocks: it reports success or failure immediately. Consume
wraps TryConsume in a retry loop that sleeps between attempts, computed
from each variant's estimate rule - but never sleeps while holding a
transaction, since that would block every other caller sharing the store.

# Reconciliation

TimeSeries additionally exposes Record, Mutate and Set so an external
source of truth (e.g. an API response reporting "rate exceeded") can
overwrite the locally modeled window.

No CLI, no environment variables, no network interface: this package is
a library, consumed by schedulers and HTTP clients that are out of scope
here.
*/
package tbucket
