// Package install runs the vendor installer in silent mode from the files
// the prestage step left in the staging folder, and cleans the folder up
// when the install succeeds.
package install
