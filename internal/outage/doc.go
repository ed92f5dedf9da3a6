// Package outage is the change-detection and notification core.
//
// A fetched provider page becomes an immutable Snapshot. The Detector compares
// it with the most recent earlier snapshot of the same provider and reports the
// paragraphs that are wholly new. The Composer renders those paragraphs as a
// MarkdownV2 message and the Fanout delivers it to every subscriber, silently
// for subscribers whose interest groups are not mentioned.
//
// Fetching, persistence and the chat transport are collaborators behind the
// interfaces in ports.go.
package outage
