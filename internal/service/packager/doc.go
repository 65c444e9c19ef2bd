// Package packager turns an application source tree into an archived,
// standalone distribution.
//
// It installs the headless browser runtime, rebuilds the bundle with the
// bundler, mirrors asset folders next to the executable, records a checksum
// manifest and compresses the result. Every step is checked: the first
// failure aborts the run and no later step executes. Only revealing the
// output in the file browser is allowed to fail silently.
package packager
