/*
Package breaker implements the circuit breaker gating the robot's calls to
the backend queue.

A breaker moves between three states:

	closed ──(failures ≥ threshold)──▶ open
	open ──(timeout elapsed)──▶ half_open
	half_open ──(successes ≥ threshold)──▶ closed
	half_open ──(any failure)──▶ open

While open, every call fails fast with *OpenError carrying the seconds
remaining before the next probe window; the wrapped operation is never
invoked. While half-open, at most HalfOpenMaxCalls probes run
concurrently; excess calls are blocked like an open circuit.

All transitions and counters are serialized under one mutex, but the
wrapped operation runs outside it so slow backend calls never block state
inspection. The breaker sits outside the connection manager's retry: one
breaker admission buys at most one retry underneath.

A process-wide Registry shares named breakers across call-sites. Manual
Reset and ForceOpen exist for operational control.
*/
package breaker
