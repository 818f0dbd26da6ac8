// Package build turns a monolithic MathWorks installer disk image into
// per-product packages, uploads them to the device management server and
// creates the anchor and self-service policies that deploy them. The run is
// strictly sequential: check, process, per-product loop, policies, and a
// checkpoint save at the end.
package build
