// Package ops serves the operator HTTP endpoints: health, on-demand fetch and pprof.
package ops
