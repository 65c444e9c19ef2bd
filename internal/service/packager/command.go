package packager

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/distpack/internal/config"
	"github.com/oshokin/distpack/internal/domain/pipeline"
	"github.com/oshokin/distpack/internal/guard"
	"github.com/oshokin/distpack/internal/logger"
	"github.com/oshokin/distpack/internal/manifest"
	"github.com/oshokin/distpack/internal/process"
)

// Options contains inputs for the packager entry points.
type Options struct {
	// RecipePath is the recipe file (defaults to distpack.yaml).
	RecipePath string
	// KillRunning terminates running copies of the bundled executable instead of failing.
	KillRunning bool
	// NoReveal skips opening the output folder.
	NoReveal bool
	// Quiet limits logging to warnings and errors.
	Quiet bool
	// ToolOutput receives a live copy of the external tools' output.
	ToolOutput io.Writer
}

// Run loads the recipe and executes the whole packaging pipeline.
func Run(ctx context.Context, opts *Options) error {
	ctx = scope(ctx, opts)

	pkg, err := fromOptions(opts)
	if err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "target", pkg.recipe.Name)

	return pkg.Run(ctx)
}

// Clean loads the recipe and only removes the previous output.
func Clean(ctx context.Context, opts *Options) error {
	ctx = scope(ctx, opts)

	pkg, err := fromOptions(opts)
	if err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "target", pkg.recipe.Name)

	return pkg.withLock(func() error {
		return pkg.CleanOutputDir(ctx)
	})
}

// Verify loads the recipe and checks the bundle folder against its manifest.
func Verify(ctx context.Context, opts *Options) error {
	ctx = scope(ctx, opts)

	recipe, err := loadRecipe(opts)
	if err != nil {
		return err
	}

	ctx = logger.WithKV(ctx, "target", recipe.Name)
	bundleDir := recipe.BundleDir()

	mismatches, err := manifest.Verify(bundleDir)
	if err != nil {
		if len(mismatches) > 0 {
			return fmt.Errorf("%s: %w\n%s", bundleDir, err, manifest.Summary(mismatches))
		}

		return fmt.Errorf("%s: %w", bundleDir, err)
	}

	logger.InfoKV(ctx, "Bundle matches its manifest", "bundle", bundleDir)

	return nil
}

// Init writes a starter recipe for name to opts.RecipePath.
// An existing recipe is kept unless overwrite is set.
func Init(ctx context.Context, opts *Options, name string, overwrite bool) error {
	ctx = scope(ctx, opts)

	path := opts.RecipePath
	if path == "" {
		path = config.DefaultConfigFilename
	}

	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s: %w", path, ErrRecipeExists)
	}

	if err := config.Save(path, config.DefaultRecipe(name)); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Recipe written", "path", path, "target", name)

	return nil
}

func scope(ctx context.Context, opts *Options) context.Context {
	ctx = logger.WithName(ctx, "distpack")
	if opts.Quiet {
		level := quietLevel(logger.Level())
		ctx = logger.ToContext(ctx, logger.FromContext(ctx).WithOptions(logger.WithLevel(level)))
	}

	return ctx
}

// quietLevel raises shared to warn; a stricter level is kept.
func quietLevel(shared zapcore.Level) zapcore.Level {
	return max(shared, zapcore.WarnLevel)
}

func loadRecipe(opts *Options) (*config.Recipe, error) {
	recipe, err := config.Load(opts.RecipePath)
	if err != nil {
		return nil, fmt.Errorf("load recipe: %w", err)
	}

	if opts.NoReveal {
		recipe.SkipReveal = true
	}

	return recipe, nil
}

func fromOptions(opts *Options) (*Packager, error) {
	recipe, err := loadRecipe(opts)
	if err != nil {
		return nil, err
	}

	pkg, err := New(recipe, process.NewExecRunner(opts.ToolOutput), WithKillRunning(opts.KillRunning))
	if err != nil {
		return nil, fmt.Errorf("initialize packager: %w", err)
	}

	return pkg, nil
}

// Run executes every step in order and stops at the first failure.
func (p *Packager) Run(ctx context.Context) error {
	return p.withLock(func() error {
		return p.runSteps(ctx)
	})
}

func (p *Packager) runSteps(ctx context.Context) error {
	tracker := pipeline.NewTracker()
	started := p.now()

	steps := []struct {
		step pipeline.Step
		run  func(ctx context.Context) error
	}{
		{pipeline.DependencyPrep, p.PrepareRuntimeDependency},
		{pipeline.Clean, p.CleanOutputDir},
		{pipeline.Build, p.buildStep},
		{pipeline.CopyAssets, p.CopyAssets},
		{pipeline.Manifest, p.WriteManifest},
		{pipeline.Archive, p.Archive},
		{pipeline.Reveal, p.RevealOutput},
	}

	for _, s := range steps {
		if err := tracker.Advance(s.step); err != nil {
			return err
		}

		stepCtx := logger.WithKV(ctx, "step", s.step.String())
		stepStarted := p.now()

		if err := s.run(stepCtx); err != nil {
			_ = tracker.Fail()

			return fmt.Errorf("packaging aborted at %s: %w", s.step, err)
		}

		logger.DebugKV(stepCtx, "Step finished", "elapsed", p.now().Sub(stepStarted).Round(time.Millisecond))
	}

	if err := tracker.Advance(pipeline.Done); err != nil {
		return err
	}

	p.printSummary(ctx, p.now().Sub(started))

	return nil
}

// withLock holds the per-target lock for the duration of fn.
func (p *Packager) withLock(fn func() error) error {
	lock, err := guard.Acquire(guard.LockPath(p.recipe.WorkDir, p.recipe.Name), p.findProcess)
	if err != nil {
		return err
	}

	defer func() {
		_ = lock.Release()
	}()

	return fn()
}
