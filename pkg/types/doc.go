// Package types defines the Go types shared by the fieldgrid agent and
// server: measurement records, batch submission payloads, the derived
// analytics views and the error taxonomy surfaced at the HTTP boundary.
package types
