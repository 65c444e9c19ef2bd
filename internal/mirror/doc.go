// Package mirror copies asset folders into the bundle.
//
// Tree reproduces a source tree exactly, empty directories included, and
// removes whatever the destination held before. Merge copies without
// clearing, for rules that target the bundle root. Placeholder marks a
// folder that the operator is expected to fill in by hand.
package mirror
