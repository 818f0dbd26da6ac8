// Package sync keeps the mwpkg tool binaries and the shared settings file
// in step with the manifest published on the distribution server. Devices
// run it ahead of prestage so a fleet never executes stale tooling.
package sync
