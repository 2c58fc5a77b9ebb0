/*
Package connection maintains the robot's logical session with the backend
queue service.

The manager tracks a small state machine (disconnected → connecting →
connected, with reconnecting and failed on the failure paths) and exposes
Execute: run one backend operation under the operation timeout, lazily
connecting first. When an operation fails with the retry flag set, the
manager reconnects with exponential backoff — initial delay doubling up to
the cap, with ±25% jitter — and retries the operation exactly once per
admission. The circuit breaker wraps Execute from the outside, so a single
breaker admission never turns into more than one retry underneath.

Progress updates deliberately pass retryOnFailure=false: a failed progress
write must never fail the job it describes.
*/
package connection
