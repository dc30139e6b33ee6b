// Package queue runs the background work every subsystem schedules: agent
// turns, sequencer steps, lifecycle sweeps and initiation decisions.
//
// Pool is the in-process implementation of core.TaskQueue. ClassifiedBackoff
// is the retry policy matched to the provider error taxonomy: transient
// classes back off exponentially with jitter, model_not_found gets a single
// registry refresh and one retry, and request-shaped failures never retry.
package queue
