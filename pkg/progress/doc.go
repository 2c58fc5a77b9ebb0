/*
Package progress reports job execution progress to the backend and watches
for external cancellation.

The Reporter coalesces rapid updates into a pending map and flushes it at
most once per interval, so a workflow emitting hundreds of node events per
second costs one backend write per second. Terminal events — EndJob and
ReportCancelled — flush immediately and are never coalesced with later
updates. All writes go through the connection manager without retry: a
progress update that fails to send is logged and dropped, never allowed to
fail the job. Local listeners are notified synchronously on every update.

The CancellationChecker polls the job row's cancel_requested flag on its
own interval and latches once set; the executor's run loop observes the
latch and cancels the engine.
*/
package progress
