// Package config defines the format-agnostic model of the deployment
// descriptors, along with the core interfaces (Loader, Converter) for
// loading and interpreting them.
//
// The `config.Model` is the single source of truth for the pipeline and
// stage builders. Concrete implementations of the interfaces, such as for
// HCL, are provided in separate packages.
package config
