// Package dag provides a small, concurrency-safe directed acyclic graph used
// to order synthesized artifacts: template resources (by Ref, Fn::GetAtt and
// DependsOn), stacks inside a stage, and the phases of the delivery pipeline.
//
// Nodes are plain string IDs. Traversals honour insertion order whenever the
// dependency relation leaves a choice, so the same descriptors always produce
// byte-identical templates.
package dag
