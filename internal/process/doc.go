// Package process runs external tools and reports their outcome uniformly.
//
// A Runner returns a Result for every command that started, whatever its exit
// status. Callers turn a non-zero status into a *StepError with Result.Check,
// so every pipeline step shares one abort policy. Working directory and extra
// environment are explicit parameters of a Command; the packager process never
// changes its own directory or environment.
package process
