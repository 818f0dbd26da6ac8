// Package manifest describes the tool distribution manifest: the list of
// published tool binaries, their checksums and the file sets per machine
// role.
package manifest
