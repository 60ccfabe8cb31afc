// Package carnet is a multi-tenant interactive computation backend.
//
// It combines three subsystems behind one service surface:
//
//   - a persistent code-execution kernel per notebook (Kernel, KernelRegistry),
//     so cells share one interpreter namespace across invocations, with idle
//     reclamation by a background sweeper;
//   - a streaming ReAct agent (Agent) that drives an LLM through a
//     Thought/Action/Observation loop, parsing a tag-delimited wire format
//     incrementally as tokens arrive and emitting fine-grained events;
//   - a tool runtime (ToolRegistry plus the packages under tools/) with
//     deterministic utilities, retrieval over a pgvector store, web search,
//     and privileged notebook tools gated by an authorization capability.
//
// The Bridge translates agent events to server-sent events for HTTP clients
// and persists the final assistant message with its full step trace.
//
// Subsystems are composed by the caller: construct a KernelRegistry, a
// NotebookStore, a Provider, per-request tool registries, and hand them to a
// Bridge. See cmd/carnetd for the reference wiring.
package carnet
