// Package stack is the construct layer between the descriptor builders and
// the CloudFormation template model.
//
// Builders add resources to a Stack by construct path ("AssetsBucket/Resource").
// The stack derives stable logical IDs from those paths, applies stack tags to
// taggable resources, records rule-pack suppressions as resource metadata, and
// on Synthesize verifies that every Ref, Fn::GetAtt, Fn::Sub placeholder and
// DependsOn entry resolves to a resource of the same stack and that the
// resulting reference graph is acyclic.
package stack
