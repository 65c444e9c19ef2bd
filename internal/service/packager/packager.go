package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/distpack/internal/archive"
	"github.com/oshokin/distpack/internal/config"
	"github.com/oshokin/distpack/internal/domain/pipeline"
	"github.com/oshokin/distpack/internal/guard"
	"github.com/oshokin/distpack/internal/logger"
	"github.com/oshokin/distpack/internal/manifest"
	"github.com/oshokin/distpack/internal/mirror"
	"github.com/oshokin/distpack/internal/process"
	"github.com/oshokin/distpack/internal/reveal"
	"github.com/oshokin/distpack/internal/service/common"
	"github.com/oshokin/distpack/internal/version"
)

var (
	// ErrUnsafeOutputDir is returned when wiping the output folder would delete the project.
	ErrUnsafeOutputDir = errors.New("output folder contains the project folder")
	// ErrBundleMissing is returned when the bundler succeeded without producing the bundle folder.
	ErrBundleMissing = errors.New("bundler did not produce the bundle folder")
	// ErrRecipeExists is returned by Init when it would overwrite a recipe.
	ErrRecipeExists = errors.New("recipe already exists")
)

// Packager runs the packaging steps for one recipe.
type Packager struct {
	recipe   *config.Recipe
	runner   process.Runner
	archiver archive.Archiver

	listProcesses guard.ListProcesses
	killProcess   guard.KillProcess
	findProcess   guard.FindProcess
	exePath       guard.ExecutablePath
	detectActor   func() (*manifest.Actor, error)
	now           func() time.Time
	goos          string
	killRunning   bool
}

// Option configures a Packager.
type Option func(*Packager)

// WithArchiver replaces the archiver derived from the recipe.
func WithArchiver(archiver archive.Archiver) Option {
	return func(p *Packager) {
		if archiver != nil {
			p.archiver = archiver
		}
	}
}

// WithProcessTable replaces process listing and killing.
func WithProcessTable(list guard.ListProcesses, kill guard.KillProcess, find guard.FindProcess) Option {
	return func(p *Packager) {
		p.listProcesses = list
		p.killProcess = kill
		p.findProcess = find
	}
}

// WithExecutablePath replaces the lookup of a process's executable path.
func WithExecutablePath(exePath guard.ExecutablePath) Option {
	return func(p *Packager) {
		p.exePath = exePath
	}
}

// WithKillRunning kills running copies of the bundle before cleaning instead of failing.
func WithKillRunning(kill bool) Option {
	return func(p *Packager) {
		p.killRunning = kill
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Packager) {
		if now != nil {
			p.now = now
		}
	}
}

// WithActor replaces builder detection for manifests.
func WithActor(detect func() (*manifest.Actor, error)) Option {
	return func(p *Packager) {
		if detect != nil {
			p.detectActor = detect
		}
	}
}

// New validates the recipe and prepares a packager.
func New(recipe *config.Recipe, runner process.Runner, opts ...Option) (*Packager, error) {
	if err := config.Validate(recipe); err != nil {
		return nil, err
	}

	p := &Packager{
		recipe:      recipe,
		runner:      runner,
		detectActor: common.DetectActor,
		now:         time.Now,
		goos:        runtime.GOOS,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.archiver == nil {
		archiver, err := archive.New(recipe.Archive.Format, recipe.Archive.Tool, runner)
		if err != nil {
			return nil, err
		}

		p.archiver = archiver
	}

	return p, nil
}

// PrepareRuntimeDependency installs the headless browser runtime component.
// The recipe's runtime environment applies to the installer process only.
func (p *Packager) PrepareRuntimeDependency(ctx context.Context) error {
	rt := p.recipe.Runtime
	if rt.Skip {
		logger.Info(ctx, "Runtime installation skipped")
		return nil
	}

	args := append([]string(nil), rt.Command[1:]...)
	args = append(args, rt.Component)

	return p.run(ctx, pipeline.DependencyPrep, process.Command{
		Name: rt.Command[0],
		Args: args,
		Dir:  p.recipe.WorkDir,
		Env:  rt.Env,
	})
}

// CleanOutputDir removes the previous output folder. A missing folder is not an error.
func (p *Packager) CleanOutputDir(ctx context.Context) error {
	outputDir := p.recipe.OutputDir()

	if err := p.checkOutputDir(outputDir); err != nil {
		return err
	}

	if err := p.stopRunningBundle(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Removing previous output", "path", outputDir)

	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("remove %s: %w", outputDir, err)
	}

	return nil
}

// BuildExecutable runs the bundler and returns its exit status.
// The error is set when the bundler could not run or exited with a non-zero status.
func (p *Packager) BuildExecutable(ctx context.Context) (int, error) {
	err := p.run(ctx, pipeline.Build, p.bundlerCommand())
	if err != nil {
		return process.ExitCode(err), err
	}

	info, err := os.Stat(p.recipe.BundleDir())
	if err != nil || !info.IsDir() {
		return 1, fmt.Errorf("%s: %w", p.recipe.BundleDir(), ErrBundleMissing)
	}

	return 0, nil
}

func (p *Packager) buildStep(ctx context.Context) error {
	_, err := p.BuildExecutable(ctx)
	return err
}

func (p *Packager) bundlerCommand() process.Command {
	args := []string{"--noconfirm"}

	if !p.recipe.Bundler.Console {
		args = append(args, "--windowed")
	}

	args = append(args, "--name", p.recipe.Name, "--distpath", p.recipe.OutputRoot)

	if p.recipe.Icon != "" {
		args = append(args, "--icon", p.recipe.Icon)
	}

	args = append(args, p.recipe.Bundler.ExtraArgs...)
	args = append(args, p.recipe.EntryPoint)

	return process.Command{
		Name: p.recipe.Bundler.Command,
		Args: args,
		Dir:  p.recipe.WorkDir,
	}
}

// CopyAssets mirrors every copy rule into the bundle folder.
// A missing source leaves a placeholder note unless the rule is required.
func (p *Packager) CopyAssets(ctx context.Context) error {
	bundleDir := p.recipe.BundleDir()

	for _, rule := range p.recipe.CopyRules {
		src := p.recipe.Resolve(rule.Source)
		dst := filepath.Join(bundleDir, filepath.FromSlash(rule.Destination))

		copyTree := mirror.Tree
		if filepath.Clean(dst) == filepath.Clean(bundleDir) {
			copyTree = mirror.Merge
		}

		stats, err := copyTree(src, dst)

		switch {
		case errors.Is(err, mirror.ErrSourceMissing) && !rule.Required:
			note := rule.Placeholder
			if note == "" {
				note = fmt.Sprintf("Put the contents of %s here.", rule.Source)
			}

			logger.WarnKV(ctx, "Source is missing, leaving a placeholder", "source", rule.Source, "destination", rule.Destination)

			if err = mirror.Placeholder(dst, note); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("copy %s to %s: %w", rule.Source, rule.Destination, err)
		default:
			logger.InfoKV(ctx, "Copied assets",
				"source", rule.Source,
				"destination", rule.Destination,
				"files", stats.Files,
				"size", humanize.Bytes(uint64(stats.Bytes))) //nolint:gosec // Sizes are never negative.
		}
	}

	return nil
}

// WriteManifest records the checksums of every bundled file.
func (p *Packager) WriteManifest(ctx context.Context) error {
	if p.recipe.SkipManifest {
		logger.Info(ctx, "Manifest skipped")
		return nil
	}

	actor, err := p.detectActor()
	if err != nil {
		logger.WarnKV(ctx, "Could not detect the builder identity", "error", err)

		actor = nil
	}

	m := manifest.New(version.Generator(), p.recipe.Name, p.now(), actor)
	if err = m.Fill(p.recipe.BundleDir()); err != nil {
		return err
	}

	if err = m.Write(p.recipe.BundleDir()); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Manifest written", "files", len(m.Files), "path", manifest.Filename)

	return nil
}

// Archive compresses the bundle folder into the archive next to it.
func (p *Packager) Archive(ctx context.Context) error {
	logger.InfoKV(ctx, "Compressing bundle", "archive", p.recipe.ArchivePath(), "format", p.recipe.Archive.Format)

	return p.archiver.Archive(ctx, p.recipe.BundleDir(), p.recipe.ArchivePath())
}

// RevealOutput opens the output folder in the file browser. It never fails.
func (p *Packager) RevealOutput(ctx context.Context) error {
	if p.recipe.SkipReveal {
		return nil
	}

	reveal.Open(ctx, p.runner, p.recipe.OutputDir())

	return nil
}

func (p *Packager) run(ctx context.Context, step pipeline.Step, cmd process.Command) error {
	logger.InfoKV(ctx, "Running", "command", cmd.String(), "dir", cmd.Dir)

	result, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return err
	}

	return result.Check(step.String())
}

// checkOutputDir refuses to wipe a folder that holds the project itself.
func (p *Packager) checkOutputDir(outputDir string) error {
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}

	absWork, err := filepath.Abs(p.recipe.WorkDir)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(absOutput, absWork)
	if err != nil {
		// Different volumes cannot contain each other.
		return nil
	}

	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%s: %w", outputDir, ErrUnsafeOutputDir)
	}

	return nil
}

// stopRunningBundle deals with copies of the executable started from the bundle folder.
// Processes that only share the name are not ours.
func (p *Packager) stopRunningBundle(ctx context.Context) error {
	if _, err := os.Stat(p.recipe.BundleDir()); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	executable := guard.ExecutableName(p.goos, p.recipe.Name)

	sameName, err := guard.FindRunning(p.listProcesses, executable)
	if err != nil {
		return err
	}

	running := guard.InDir(sameName, p.recipe.BundleDir(), p.exePath)

	if len(running) == 0 {
		return nil
	}

	if !p.killRunning {
		return fmt.Errorf("%s (pids %v): %w", executable, guard.PIDs(running), guard.ErrBundleRunning)
	}

	logger.WarnKV(ctx, "Terminating running bundle", "executable", executable, "pids", guard.PIDs(running))

	return guard.Terminate(running, p.killProcess)
}

// printSummary logs where the distribution ended up.
func (p *Packager) printSummary(ctx context.Context, elapsed time.Duration) {
	size := "unknown"
	if info, err := os.Stat(p.recipe.ArchivePath()); err == nil {
		size = humanize.Bytes(uint64(info.Size())) //nolint:gosec // Sizes are never negative.
	}

	logger.InfoKV(ctx, "Packaging completed",
		"archive", p.recipe.ArchivePath(),
		"size", size,
		"bundle", p.recipe.BundleDir(),
		"elapsed", elapsed.Round(time.Second).String())
}
