// Package checkpoint persists the per-run policy definitions as a versioned
// JSON record in the work folder. The record is loaded at process start,
// passed through the build phases by reference, and saved at process exit;
// the --skip resume mode replays policy creation from it without touching
// the disk image.
package checkpoint
