/*
Package scheduler fires time-based triggers as workflow dispatches.

Schedules come in six shapes — one-shot, fixed interval, daily, weekly,
monthly, and cron (5- or 6-field expressions, parsed by robfig/cron). A
background loop evaluates due schedules once per check interval and runs
each fire under a concurrency semaphore. Fires that would overlap a still
running execution of the same schedule coalesce into one: the schedule is
skipped while executing and picked up again on the next check if still
due.

Each fire resolves the workflow document from the schedule's path, hands
it to the configured ExecuteFunc under the execution timeout (timeouts
fail with "timed out"), applies the retry policy, and appends an Entry to
the bounded execution history (pruned by count and age on every insert).
*/
package scheduler
