// Package rollout turns a stream of deployment status snapshots into chat
// notification threads.
//
// Pipeline: Dispatcher.OnEvent -> Classifier -> Registry -> Thread state
// machine -> Sink operation. Each deployment identity is processed on a
// single dispatcher shard, so per-identity state never races; distinct
// identities proceed in parallel.
package rollout
