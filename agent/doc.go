// Package agent implements the bounded reasoning loop at the center of the
// pipeline. Each run is an explicit state machine: the core prompts the chat
// model, executes any requested tool calls through the catalog, feeds results
// back, and repeats until the model produces a plain reply or the step budget
// runs out. Every iteration is recorded as a step so operators can reconstruct
// why the agent answered the way it did.
package agent
