// Package config defines the YAML settings shared by the mwpkg binaries.
//
// The build host and managed devices read the same file shape; each binary
// uses the subset of fields relevant to it. Validation fills defaults so an
// empty file is a working configuration for a stock MathWorks deployment.
package config
