package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Overrides are DISTPACK_* environment variables applied on top of a recipe.
// Empty strings and nil flags leave the recipe untouched.
type Overrides struct {
	OutputRoot    string `env:"DISTPACK_OUTPUT_ROOT"`
	WorkDir       string `env:"DISTPACK_WORK_DIR"`
	ArchiveTool   string `env:"DISTPACK_ARCHIVE_TOOL"`
	ArchiveFormat string `env:"DISTPACK_ARCHIVE_FORMAT"`
	Bundler       string `env:"DISTPACK_BUNDLER"`
	NoReveal      *bool  `env:"DISTPACK_NO_REVEAL"`
	SkipRuntime   *bool  `env:"DISTPACK_SKIP_RUNTIME"`
	LogLevel      string `env:"DISTPACK_LOG_LEVEL"`
}

// ParseOverrides reads overrides from environ, or from the process environment when environ is nil.
func ParseOverrides(environ map[string]string) (*Overrides, error) {
	var overrides Overrides
	if err := env.ParseWithOptions(&overrides, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &overrides, nil
}

// ApplyOverrides parses the environment and merges non-empty values into the recipe.
func ApplyOverrides(recipe *Recipe, environ map[string]string) error {
	if recipe == nil {
		return errRecipeIsNotSet
	}

	overrides, err := ParseOverrides(environ)
	if err != nil {
		return err
	}

	overrides.Apply(recipe)

	return nil
}

// Apply merges the overrides into the recipe.
func (o *Overrides) Apply(recipe *Recipe) {
	setIfNotEmpty(&recipe.OutputRoot, o.OutputRoot)
	setIfNotEmpty(&recipe.WorkDir, o.WorkDir)
	setIfNotEmpty(&recipe.Archive.Tool, o.ArchiveTool)
	setIfNotEmpty(&recipe.Archive.Format, o.ArchiveFormat)
	setIfNotEmpty(&recipe.Bundler.Command, o.Bundler)

	if o.NoReveal != nil {
		recipe.SkipReveal = *o.NoReveal
	}

	if o.SkipRuntime != nil {
		recipe.Runtime.Skip = *o.SkipRuntime
	}
}

func setIfNotEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}
