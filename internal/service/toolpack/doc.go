// Package toolpack prepares a release of the mwpkg tools: it hashes the
// built binaries and the settings file and writes the manifest that the
// sync tool compares against.
package toolpack
