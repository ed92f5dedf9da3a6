// Package pipeline runs one detection cycle for a provider:
// fetch, append, evaluate, compose, dispatch, prune.
package pipeline
