// Package main hosts the chimerad service entrypoint.
//
// Architecture overview:
//   - HTTP control plane: internal/api.Server exposes health, metrics, mission
//     submission, status reads, telemetry ingress, and blueprint administration.
//     Submitted missions are assigned an id, seeded into the status store, and
//     enqueued exactly once.
//   - Queue & workers: missions flow through the configured queue backend
//     (in-memory for single-binary development, Redis for multi-process) and are
//     consumed by a fixed pool of stealth workers. Dequeue is atomic across
//     consumers; a mission arriving with its attempt budget exhausted is
//     dead-lettered instead of executed.
//   - Stealth execution: each worker acquires an identity (fingerprint + proxy
//     binding) from the pool, opens a dedicated Chrome process via chromedp,
//     classifies the landing page for captchas and blocks, then resolves targets
//     blueprint-first with vision-oracle grounding as fallback. Accepted
//     groundings schedule selector repairs back into the blueprint store.
//   - Trust gate: before any worker accepts traffic, the serve command validates
//     the stealth profile against a fingerprint-scoring page. A failing gate
//     aborts startup with a distinct exit code so orchestrators never run a
//     detectable fleet.
//   - Telemetry: workers emit events into a batching hub fanned out to zap logs,
//     the status store (merge-patch semantics, TTL reset per write), and
//     Prometheus metrics served on /metrics.
//   - Configuration & plumbing: Viper populates config from env/files with the
//     CHIMERA_ prefix; zap provides structured logging; cobra provides the
//     serve, seed, and gate subcommands.
//
// Exit codes: 0 clean shutdown, 1 config or runtime error, 6 queue
// unreachable, 7 trust gate refused.
package main
