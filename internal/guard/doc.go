// Package guard protects a packaging run from interference.
//
// A lock file in the project root stops two runs from rebuilding the same
// output at once; a lock left behind by a dead process is reclaimed. Before
// the output folder is wiped, copies of the bundled executable started from
// that folder are detected because Windows keeps their files locked. A
// process that only shares the name is ignored.
package guard
