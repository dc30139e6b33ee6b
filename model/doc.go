// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language / reasoning models inside Confab.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Classify provider failures into the retry taxonomy the task queue uses
//   - Route logical model ids to concrete providers (Selector) and track the
//     set of known models (Registry)
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (Anthropic direct, OpenRouter aggregation) implement the Provider
// interface from this package so higher layers (turn orchestration, memory
// sweeps, initiation) remain decoupled from vendor SDKs.
package model
