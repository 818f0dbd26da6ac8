// Package prestage prepares a device for a silent MathWorks install: it
// works out which requested products are missing, verifies disk space,
// stages the license and installer input files, and fires the custom
// events that make the management agent download the packages.
package prestage
