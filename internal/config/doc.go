// Package config defines the packaging recipe: what to bundle, which tools to
// run and which asset folders to ship next to the executable.
//
// Recipes are stored as YAML or TOML (picked by file extension) and can be
// overridden by DISTPACK_* environment variables.
package config
