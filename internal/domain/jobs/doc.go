/*
Package jobs tracks background work through QUEUED → RUNNING →
COMPLETED | FAILED.

Store owns job records, their ordered event logs and the purge of
terminal jobs. Runner is a fixed worker pool that owns execution: each job
is driven by exactly one worker, so every record has a single writer.

Cancellation is cooperative. Cancel sets a flag that work observes through
Progress.Checkpoint, and also cancels the job's context so in-flight
network calls abort. Work that ignores both still runs to completion and
its result is recorded.
*/
package jobs
