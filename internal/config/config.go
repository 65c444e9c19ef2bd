package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Recipe describes one packaging run.
type Recipe struct {
	// Name is the target name used for the executable, the bundle folder and the archive.
	Name string `yaml:"name" toml:"name"`
	// EntryPoint is the application entry file handed to the bundler.
	EntryPoint string `yaml:"entry_point" toml:"entry_point"`
	// Icon is the optional application icon.
	Icon string `yaml:"icon,omitempty" toml:"icon,omitempty"`
	// WorkDir is the project root; tools run here and relative paths resolve against it.
	WorkDir string `yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`
	// OutputRoot is the folder the bundler writes to. It is wiped on every run.
	OutputRoot string `yaml:"output_root,omitempty" toml:"output_root,omitempty"`
	// Runtime configures the headless browser runtime installation.
	Runtime Runtime `yaml:"runtime" toml:"runtime"`
	// Bundler configures the freezing tool.
	Bundler Bundler `yaml:"bundler" toml:"bundler"`
	// CopyRules lists auxiliary folders mirrored into the bundle.
	CopyRules []CopyRule `yaml:"copy_rules" toml:"copy_rules"`
	// Archive configures the final compression step.
	Archive Archive `yaml:"archive" toml:"archive"`
	// SkipReveal disables opening the output folder in the file browser.
	SkipReveal bool `yaml:"skip_reveal,omitempty" toml:"skip_reveal,omitempty"`
	// SkipManifest disables writing the checksum manifest into the bundle.
	SkipManifest bool `yaml:"skip_manifest,omitempty" toml:"skip_manifest,omitempty"`
}

// Runtime is the headless browser runtime installed before bundling.
type Runtime struct {
	// Command is the installer argv without the component, e.g. [playwright, install].
	Command []string `yaml:"command,omitempty" toml:"command,omitempty"`
	// Component is the runtime component to fetch.
	Component string `yaml:"component,omitempty" toml:"component,omitempty"`
	// Env is applied to the installer process only.
	Env map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	// Skip disables the step.
	Skip bool `yaml:"skip,omitempty" toml:"skip,omitempty"`
}

// Bundler is the tool producing the executable folder.
type Bundler struct {
	// Command is the bundler executable.
	Command string `yaml:"command,omitempty" toml:"command,omitempty"`
	// Console keeps the console window; the default is a windowed build.
	Console bool `yaml:"console,omitempty" toml:"console,omitempty"`
	// ExtraArgs are appended before the entry point.
	ExtraArgs []string `yaml:"extra_args,omitempty" toml:"extra_args,omitempty"`
}

// CopyRule mirrors Source into Destination below the bundle folder.
type CopyRule struct {
	// Source is a file or folder relative to WorkDir.
	Source string `yaml:"source" toml:"source"`
	// Destination is relative to the bundle folder. Empty or "." means the bundle root.
	Destination string `yaml:"destination" toml:"destination"`
	// Placeholder is the note written when Source does not exist.
	Placeholder string `yaml:"placeholder,omitempty" toml:"placeholder,omitempty"`
	// Required turns a missing Source into an error.
	Required bool `yaml:"required,omitempty" toml:"required,omitempty"`
}

// Archive configures compression of the bundle folder.
type Archive struct {
	// Tool is the 7-Zip executable used for the 7z format.
	Tool string `yaml:"tool,omitempty" toml:"tool,omitempty"`
	// Format is either "7z" or "zip".
	Format string `yaml:"format,omitempty" toml:"format,omitempty"`
	// Suffix is inserted between the name and the extension, e.g. "windows".
	Suffix string `yaml:"suffix,omitempty" toml:"suffix,omitempty"`
}

const (
	// DefaultConfigFilename is the default recipe location.
	DefaultConfigFilename = "distpack.yaml"

	// DefaultOutputRoot is where the bundler writes its output.
	DefaultOutputRoot = "dist"

	// DefaultBundler is the bundler executable.
	DefaultBundler = "pyinstaller"

	// DefaultArchiveTool is the 7-Zip executable name.
	DefaultArchiveTool = "7z"

	// DefaultRuntimeComponent is the browser fetched by the runtime installer.
	DefaultRuntimeComponent = "chromium"

	// FormatSevenZip produces archives with the external 7-Zip tool.
	FormatSevenZip = "7z"
	// FormatZip produces archives with the built-in zip writer.
	FormatZip = "zip"

	// DefaultFilePermissions is used for recipes; they are shared through version control.
	DefaultFilePermissions = 0o644
)

var (
	// errRecipeIsNotSet is returned when a nil recipe is provided.
	errRecipeIsNotSet = errors.New("recipe is not set")
	// ErrNameRequired is returned when the target name is missing.
	ErrNameRequired = errors.New("target name must be provided")
	// ErrInvalidName is returned when the target name cannot be used as a folder name.
	ErrInvalidName = errors.New("target name must be a plain file name")
	// ErrEntryPointRequired is returned when the entry point is missing.
	ErrEntryPointRequired = errors.New("entry point must be provided")
	// ErrInvalidCopyRule is returned for copy rules without a source or escaping the bundle.
	ErrInvalidCopyRule = errors.New("invalid copy rule")
	// ErrUnsupportedFormat is returned for unknown archive formats.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Load reads a recipe, applies DISTPACK_* overrides and validates it.
func Load(path string) (*Recipe, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}

	var recipe Recipe
	if err = unmarshal(path, contents, &recipe); err != nil {
		return nil, fmt.Errorf("unmarshal recipe: %w", err)
	}

	if err = ApplyOverrides(&recipe, nil); err != nil {
		return nil, err
	}

	if err = Validate(&recipe); err != nil {
		return nil, err
	}

	return &recipe, nil
}

// Save writes the recipe in the format implied by the path extension.
func Save(path string, recipe *Recipe) error {
	if recipe == nil {
		return errRecipeIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(recipe); err != nil {
		return err
	}

	data, err := marshal(path, recipe)
	if err != nil {
		return fmt.Errorf("marshal recipe: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write recipe: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults in place.
func Validate(recipe *Recipe) error {
	if recipe == nil {
		return errRecipeIsNotSet
	}

	recipe.Name = strings.TrimSpace(recipe.Name)
	if recipe.Name == "" {
		return ErrNameRequired
	}

	if recipe.Name != filepath.Base(recipe.Name) || recipe.Name == "." || recipe.Name == ".." {
		return fmt.Errorf("%q: %w", recipe.Name, ErrInvalidName)
	}

	if strings.TrimSpace(recipe.EntryPoint) == "" {
		return ErrEntryPointRequired
	}

	setDefaults(recipe)

	for i := range recipe.CopyRules {
		if err := validateCopyRule(&recipe.CopyRules[i]); err != nil {
			return fmt.Errorf("copy rule #%d: %w", i+1, err)
		}
	}

	switch recipe.Archive.Format {
	case FormatSevenZip, FormatZip:
	default:
		return fmt.Errorf("%q: %w", recipe.Archive.Format, ErrUnsupportedFormat)
	}

	return nil
}

func setDefaults(recipe *Recipe) {
	if recipe.WorkDir == "" {
		recipe.WorkDir = "."
	}

	if recipe.OutputRoot == "" {
		recipe.OutputRoot = DefaultOutputRoot
	}

	if len(recipe.Runtime.Command) == 0 {
		recipe.Runtime.Command = []string{"playwright", "install"}
	}

	if recipe.Runtime.Component == "" {
		recipe.Runtime.Component = DefaultRuntimeComponent
	}

	if recipe.Bundler.Command == "" {
		recipe.Bundler.Command = DefaultBundler
	}

	if recipe.Archive.Tool == "" {
		recipe.Archive.Tool = DefaultArchiveTool
	}

	recipe.Archive.Format = strings.ToLower(strings.TrimPrefix(recipe.Archive.Format, "."))
	if recipe.Archive.Format == "" {
		recipe.Archive.Format = FormatSevenZip
	}

	if recipe.Archive.Suffix == "" {
		recipe.Archive.Suffix = runtime.GOOS
	}
}

func validateCopyRule(rule *CopyRule) error {
	if strings.TrimSpace(rule.Source) == "" {
		return fmt.Errorf("source is empty: %w", ErrInvalidCopyRule)
	}

	if rule.Destination == "" {
		rule.Destination = "."
	}

	if !filepath.IsLocal(filepath.FromSlash(rule.Destination)) {
		return fmt.Errorf("destination %q leaves the bundle folder: %w", rule.Destination, ErrInvalidCopyRule)
	}

	return nil
}

// Resolve returns p relative to the work dir unless it is already absolute.
func (r *Recipe) Resolve(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(r.WorkDir, p)
}

// OutputDir is the folder wiped by the clean step.
func (r *Recipe) OutputDir() string {
	return r.Resolve(r.OutputRoot)
}

// BundleDir is the folder produced by the bundler and archived at the end.
func (r *Recipe) BundleDir() string {
	return filepath.Join(r.OutputDir(), r.Name)
}

// ArchiveName is the archive file name, e.g. MahjongCopilot.windows.7z.
func (r *Recipe) ArchiveName() string {
	return r.Name + "." + r.Archive.Suffix + "." + r.Archive.Format
}

// ArchivePath is the archive location next to the bundle folder.
func (r *Recipe) ArchivePath() string {
	return filepath.Join(r.OutputDir(), r.ArchiveName())
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func unmarshal(path string, contents []byte, recipe *Recipe) error {
	if isTOML(path) {
		_, err := toml.Decode(string(contents), recipe)
		return err
	}

	return yaml.Unmarshal(contents, recipe)
}

func marshal(path string, recipe *Recipe) ([]byte, error) {
	if !isTOML(path) {
		return yaml.Marshal(recipe)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(recipe); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
