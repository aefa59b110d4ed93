// Package protocol owns the failure taxonomy shared by both protocol paths.
//
// Ownership boundary:
// - error kinds and their negative status codes
// - fixed-layout command frames (subpackage frame)
package protocol
