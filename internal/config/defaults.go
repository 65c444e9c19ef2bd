package config

import "path"

// Layout of the MahjongCopilot distribution.
const (
	browserCacheSource      = ".venv/Lib/site-packages/playwright/driver/package/.local-browsers"
	browserCacheDestination = "_internal/playwright/driver/package/.local-browsers"
)

// DefaultRecipe returns the recipe of a PyInstaller + Playwright application
// shipping version info, resources, protocol definitions and the native
// library folder next to the executable.
func DefaultRecipe(name string) *Recipe {
	return &Recipe{
		Name:       name,
		EntryPoint: "main.py",
		Icon:       path.Join("resources", "icon.ico"),
		WorkDir:    ".",
		OutputRoot: DefaultOutputRoot,
		Runtime: Runtime{
			Command:   []string{"playwright", "install"},
			Component: DefaultRuntimeComponent,
			Env: map[string]string{
				// Installs the browser inside the playwright package so it can be shipped.
				"PLAYWRIGHT_BROWSERS_PATH": "0",
			},
		},
		Bundler: Bundler{
			Command: DefaultBundler,
		},
		CopyRules: []CopyRule{
			{Source: "version", Destination: "version"},
			{Source: "resources", Destination: "resources"},
			{Source: "liqi_proto", Destination: "liqi_proto"},
			{
				Source:      "libriichi3p",
				Destination: "libriichi3p",
				Placeholder: "Put the libriichi3p native library files here.",
			},
			{Source: browserCacheSource, Destination: browserCacheDestination},
		},
		Archive: Archive{
			Tool:   DefaultArchiveTool,
			Format: FormatSevenZip,
			Suffix: "windows",
		},
	}
}
