// Package blackboard defines the shared state model for the Foundry
// document pipeline. The blackboard is the central record threaded through
// every pipeline stage: the working draft, its version history, per-axis
// review results, the deliberation transcript, annotations, and the
// human-approval control flags all live on one typed State aggregate.
//
// State values are immutable by convention: stages and the router never
// mutate a State in place. They Clone it, apply their changes to the copy,
// and hand the copy back, so a checkpoint written mid-pipeline always
// reflects a fully-formed snapshot.
//
// All Redis keys and channels derived from this package are namespaced by
// instance name so that multiple Foundry instances can safely share one
// Redis server.
package blackboard
