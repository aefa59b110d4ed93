// Package potlink wires the sample source, the client-mode HTTP exchange,
// the server-mode command-frame loop, and the optional status node into one
// process lifecycle.
package potlink
