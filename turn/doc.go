// Package turn drives agent turns: the response orchestrator consumes a
// provider's ordered event stream, debounces content and reasoning chunks
// through stream buffers, observes tool calls, and finalizes exactly one
// assistant message per turn. The sequencer chains several agents' turns
// over one chat as separately retryable queue tasks, and the context
// builder assembles the model request from stores.
package turn
