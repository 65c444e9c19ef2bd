// Package archive compresses the bundle folder into a single distributable file.
//
// The archive holds the bundle folder itself as its only top-level entry.
// Archives are written under a staging name and promoted to the final name
// once complete, so an interrupted run never leaves a truncated archive behind.
package archive
