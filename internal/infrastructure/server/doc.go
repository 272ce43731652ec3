// Package server assembles the demo trace server: gin routes behind the
// trace filter, an async endpoint on a plain mux, and the metrics endpoint.
package server
