/*
Package bus implements Helmsman's coordination bus (spec §4.A): a thin,
Redis-backed key/value store with pub/sub, shared by every other
component as its nervous system.

# Architecture

	┌─────────────────────── COORDINATION BUS ─────────────────────────┐
	│                                                                      │
	│  ┌────────────────────────────────────────────────────┐           │
	│  │                    Bus                               │           │
	│  │  Put/Get/ListKeys ──► Redis strings (TTL-bound)      │           │
	│  │  Publish/Subscribe ──► Redis pub/sub + local fan-out │           │
	│  └──────────────────┬───────────────────────────────────┘           │
	│                     │ wrapped in a gobreaker.CircuitBreaker         │
	│                     ▼                                                │
	│  ┌────────────────────────────────────────────────────┐           │
	│  │              redis.Client (go-redis/v9)              │           │
	│  └────────────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────────────┘

This mirrors cuemby-warren's pkg/events.Broker (Subscriber channels,
buffered fan-out, Start/Stop lifecycle) but backs the durable side with
Redis instead of an in-memory channel, and adds the idempotent-write and
retry/circuit-breaker contract spec §4.A and §7 require: all writes
SHOULD carry a producer-embedded unique id so replay is a no-op, and
transient Redis failures are retried with exponential backoff before
flipping the breaker open (which the bus surfaces as the
`bus_unavailable` error kind).

Every value is a component record (Node, Task, Placement, ...) or an
Envelope, JSON-encoded the same way cuemby-warren's BoltStore encodes
types.Node et al. — just written through to Redis instead of a local
BoltDB bucket.
*/
package bus
