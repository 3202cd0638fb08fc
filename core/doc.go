// Package core defines the shared data model of the message pipeline: inbound
// platform events, role-tagged conversation turns, sessions and their store
// contract, the per-event processing context threaded through pipeline stages,
// and the outcome type every processed event resolves to.
//
// The package is dependency-light by design; heavier concerns (providers,
// tools, the stage engine) build on top of it.
package core
