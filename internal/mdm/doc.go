// Package mdm is a client for the device management server's classic API.
// It covers the resources the packaging pipeline touches: categories,
// static computer groups, packages (including file upload) and policies.
package mdm
