// Package registry provides the central "glue" for the module system.
//
// The Registry stores the mapping between the stage kinds used in
// descriptors (e.g. `stage "distribution" "CDN"`) and the compiled Go
// builders that turn a decoded stage body into CloudFormation stacks.
//
// During application startup, the registry is populated and then validated
// against the loaded model, so a descriptor naming an unknown kind fails
// before any synthesis happens.
package registry
