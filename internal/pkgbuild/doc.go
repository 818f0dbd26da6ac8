// Package pkgbuild turns extracted product payloads into installable
// packages. It wraps the system pkgbuild tool, pulls the vendor installer
// out of its self-extracting launcher, and produces the Network License
// Manager archives bundled into every product package.
package pkgbuild
