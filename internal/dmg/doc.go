// Package dmg mounts and detaches the vendor installer disk image via
// hdiutil. The attach output is parsed for the backing device (needed for a
// clean detach) and the mounted volume, which must match the configured
// volume glob.
package dmg
