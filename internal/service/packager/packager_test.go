package packager

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/distpack/internal/archive"
	"github.com/oshokin/distpack/internal/config"
	"github.com/oshokin/distpack/internal/guard"
	"github.com/oshokin/distpack/internal/logger"
	"github.com/oshokin/distpack/internal/manifest"
	"github.com/oshokin/distpack/internal/mirror"
	"github.com/oshokin/distpack/internal/process"
)

// toolRunner simulates the runtime installer, the bundler and the file browser.
type toolRunner struct {
	t         *testing.T
	recipe    *config.Recipe
	buildExit int
	commands  []process.Command
}

func (r *toolRunner) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	r.commands = append(r.commands, cmd)

	switch cmd.Name {
	case "pyinstaller":
		if r.buildExit != 0 {
			return &process.Result{ExitCode: r.buildExit, Stderr: []byte("ERROR: script main.py not found")}, nil
		}

		bundleDir := r.recipe.BundleDir()
		require.NoError(r.t, os.MkdirAll(filepath.Join(bundleDir, "_internal"), 0o755))
		require.NoError(r.t, os.WriteFile(filepath.Join(bundleDir, r.recipe.Name+".exe"), []byte("MZ"), 0o644))
	case "playwright":
		cache := filepath.Join(r.recipe.WorkDir, "browsers", "chromium-1140")
		require.NoError(r.t, os.MkdirAll(cache, 0o755))
		require.NoError(r.t, os.WriteFile(filepath.Join(cache, "chrome.exe"), []byte("chrome"), 0o644))
	}

	return new(process.Result), nil
}

func (r *toolRunner) names() []string {
	names := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		names = append(names, cmd.Name)
	}

	return names
}

func noProcesses() ([]ps.Process, error) {
	return nil, nil
}

func noOwner(int) (ps.Process, error) {
	return nil, nil
}

func fixedActor() (*manifest.Actor, error) {
	return &manifest.Actor{Hostname: "build-01", Username: "builder"}, nil
}

// newProject creates a work dir with the MahjongCopilot asset layout.
func newProject(t *testing.T) *config.Recipe {
	t.Helper()

	workDir := t.TempDir()

	files := []string{
		"main.py",
		"resources/icon.ico",
		"resources/locales/en.json",
		"liqi_proto/liqi.json",
		"version/version",
	}
	for _, name := range files {
		path := filepath.Join(workDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "resources", "empty"), 0o755))

	recipe := &config.Recipe{
		Name:       "MahjongCopilot",
		EntryPoint: "main.py",
		Icon:       "resources/icon.ico",
		WorkDir:    workDir,
		Runtime: config.Runtime{
			Command:   []string{"playwright", "install"},
			Component: "chromium",
			Env:       map[string]string{"PLAYWRIGHT_BROWSERS_PATH": "0"},
		},
		CopyRules: []config.CopyRule{
			{Source: "resources", Destination: "resources"},
			{Source: "liqi_proto", Destination: "liqi_proto"},
			{Source: "doesnotexist", Destination: "libriichi3p", Placeholder: "Put libriichi3p files here."},
			{Source: "browsers", Destination: "_internal/playwright/driver/package/.local-browsers"},
		},
		Archive: config.Archive{Format: config.FormatZip, Suffix: "windows"},
	}
	require.NoError(t, config.Validate(recipe))

	return recipe
}

func newPackager(t *testing.T, recipe *config.Recipe, runner process.Runner, opts ...Option) *Packager {
	t.Helper()

	base := []Option{
		WithProcessTable(noProcesses, nil, noOwner),
		WithActor(fixedActor),
		WithClock(func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }),
	}

	pkg, err := New(recipe, runner, append(base, opts...)...)
	require.NoError(t, err)

	return pkg
}

func listTree(t *testing.T, root string) []string {
	t.Helper()

	var entries []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)

		rel, err := filepath.Rel(filepath.Dir(root), p)
		require.NoError(t, err)

		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}

		entries = append(entries, rel)

		return nil
	})
	require.NoError(t, err)
	sort.Strings(entries)

	return entries
}

// TestRun_MahjongCopilotScenario packages the example project end to end.
func TestRun_MahjongCopilotScenario(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	runner := &toolRunner{t: t, recipe: recipe}

	require.NoError(t, newPackager(t, recipe, runner).Run(context.Background()))

	require.Len(t, runner.commands, 3)
	require.Equal(t, []string{"playwright", "pyinstaller"}, runner.names()[:2])

	bundleDir := recipe.BundleDir()
	for _, dir := range []string{"resources", "resources/empty", "liqi_proto", "libriichi3p", "_internal/playwright/driver/package/.local-browsers/chromium-1140"} {
		info, err := os.Stat(filepath.Join(bundleDir, filepath.FromSlash(dir)))
		require.NoError(t, err, dir)
		require.True(t, info.IsDir(), dir)
	}

	placeholder, err := os.ReadDir(filepath.Join(bundleDir, "libriichi3p"))
	require.NoError(t, err)
	require.Len(t, placeholder, 1)
	require.Equal(t, mirror.PlaceholderFilename, placeholder[0].Name())

	require.Equal(t, "MahjongCopilot.windows.zip", filepath.Base(recipe.ArchivePath()))

	entries, err := archive.Entries(recipe.ArchivePath())
	require.NoError(t, err)
	require.Equal(t, listTree(t, bundleDir), entries)

	mismatches, err := manifest.Verify(bundleDir)
	require.NoError(t, err)
	require.Empty(t, mismatches)

	_, err = os.Stat(guard.LockPath(recipe.WorkDir, recipe.Name))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// TestRun_CommandsAreScoped checks the installer env, bundler flags and explicit working directories.
func TestRun_CommandsAreScoped(t *testing.T) {
	t.Parallel()

	before, err := os.Getwd()
	require.NoError(t, err)

	recipe := newProject(t)
	recipe.SkipReveal = true
	runner := &toolRunner{t: t, recipe: recipe}

	require.NoError(t, newPackager(t, recipe, runner).Run(context.Background()))
	require.Len(t, runner.commands, 2)

	installer := runner.commands[0]
	require.Equal(t, []string{"install", "chromium"}, installer.Args)
	require.Equal(t, map[string]string{"PLAYWRIGHT_BROWSERS_PATH": "0"}, installer.Env)
	require.Equal(t, recipe.WorkDir, installer.Dir)

	_, leaked := os.LookupEnv("PLAYWRIGHT_BROWSERS_PATH")
	require.False(t, leaked)

	bundler := runner.commands[1]
	require.Equal(t, []string{
		"--noconfirm", "--windowed",
		"--name", "MahjongCopilot",
		"--distpath", "dist",
		"--icon", "resources/icon.ico",
		"main.py",
	}, bundler.Args)
	require.Equal(t, recipe.WorkDir, bundler.Dir)

	after, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestRun_AbortsOnBuildFailure runs nothing after a failed build and propagates the status.
func TestRun_AbortsOnBuildFailure(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	runner := &toolRunner{t: t, recipe: recipe, buildExit: 2}

	err := newPackager(t, recipe, runner).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, process.ExitCode(err))
	require.Contains(t, err.Error(), "script main.py not found")

	require.Equal(t, []string{"playwright", "pyinstaller"}, runner.names())

	_, err = os.Stat(recipe.ArchivePath())
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = os.Stat(filepath.Join(recipe.BundleDir(), "resources"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// TestRun_AbortLeavesReportingToCaller returns the failure without logging it as well.
func TestRun_AbortLeavesReportingToCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := logger.ToContext(context.Background(), logger.NewWithWriter(&buf, zapcore.DebugLevel))

	recipe := newProject(t)
	runner := &toolRunner{t: t, recipe: recipe, buildExit: 2}

	err := newPackager(t, recipe, runner).Run(ctx)
	require.ErrorContains(t, err, "script main.py not found")
	require.NotContains(t, buf.String(), "script main.py not found")
	require.NotContains(t, buf.String(), "ERROR")
}

// TestRun_AbortsOnInstallerFailure applies the same policy to the runtime step.
func TestRun_AbortsOnInstallerFailure(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.Runtime.Command = []string{"missing-installer"}
	runner := &failingRunner{name: "missing-installer", err: errors.New("executable file not found")}

	err := newPackager(t, recipe, runner).Run(context.Background())
	require.ErrorContains(t, err, "dependency-prep")
	require.Equal(t, 1, process.ExitCode(err))
	require.Len(t, runner.commands, 1)
}

// TestRun_MissingBundleFolder aborts when the bundler reports success but produced nothing.
func TestRun_MissingBundleFolder(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.Runtime.Skip = true
	runner := &failingRunner{}

	err := newPackager(t, recipe, runner).Run(context.Background())
	require.ErrorIs(t, err, ErrBundleMissing)
	require.Equal(t, 1, process.ExitCode(err))
}

// TestRun_RequiredSourceMissing turns a missing required source into a failure.
func TestRun_RequiredSourceMissing(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.CopyRules[2].Required = true
	runner := &toolRunner{t: t, recipe: recipe}

	err := newPackager(t, recipe, runner).Run(context.Background())
	require.ErrorIs(t, err, mirror.ErrSourceMissing)

	_, err = os.Stat(recipe.ArchivePath())
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// TestRun_RefusesConcurrentRun fails while another live run holds the lock.
func TestRun_RefusesConcurrentRun(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	lockPath := guard.LockPath(recipe.WorkDir, recipe.Name)
	require.NoError(t, os.WriteFile(lockPath, []byte("424242"), 0o600))

	runner := &toolRunner{t: t, recipe: recipe}
	alive := func(pid int) (ps.Process, error) { return runningProcess{pid: pid, exe: "distpack"}, nil }

	err := newPackager(t, recipe, runner, WithProcessTable(noProcesses, nil, alive)).Run(context.Background())
	require.ErrorIs(t, err, guard.ErrAlreadyRunning)
	require.Empty(t, runner.commands)
}

// TestCleanOutputDir_Idempotent removes the output and tolerates a missing folder.
func TestCleanOutputDir_Idempotent(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	pkg := newPackager(t, recipe, new(failingRunner))

	require.NoError(t, os.MkdirAll(filepath.Join(recipe.BundleDir(), "_internal"), 0o755))
	require.NoError(t, os.WriteFile(recipe.ArchivePath(), []byte("old"), 0o644))

	for i := 0; i < 2; i++ {
		require.NoError(t, pkg.CleanOutputDir(context.Background()))

		_, err := os.Stat(recipe.OutputDir())
		require.ErrorIs(t, err, fs.ErrNotExist)
	}
}

// TestCleanOutputDir_RefusesProjectRoot never wipes the folder holding the project.
func TestCleanOutputDir_RefusesProjectRoot(t *testing.T) {
	t.Parallel()

	for _, root := range []string{".", ".."} {
		recipe := newProject(t)
		recipe.OutputRoot = root

		err := newPackager(t, recipe, new(failingRunner)).CleanOutputDir(context.Background())
		require.ErrorIs(t, err, ErrUnsafeOutputDir, root)

		_, err = os.Stat(filepath.Join(recipe.WorkDir, "main.py"))
		require.NoError(t, err)
	}
}

// TestCleanOutputDir_RunningBundle fails or kills depending on the option.
// Only copies started from the bundle folder count.
func TestCleanOutputDir_RunningBundle(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	require.NoError(t, os.MkdirAll(recipe.BundleDir(), 0o755))

	exe := guard.ExecutableName(runtime.GOOS, recipe.Name)
	list := func() ([]ps.Process, error) {
		return []ps.Process{
			runningProcess{pid: 7001, exe: exe},
			runningProcess{pid: 7002, exe: "python"},
			runningProcess{pid: 7003, exe: exe},
		}, nil
	}

	paths := map[int]string{
		7001: filepath.Join(recipe.BundleDir(), exe),
		7002: filepath.Join(recipe.WorkDir, ".venv", "python"),
		7003: filepath.Join(t.TempDir(), "elsewhere", exe),
	}
	exePath := func(pid int) (string, error) { return paths[pid], nil }

	var killed []int

	kill := func(pid int) error {
		killed = append(killed, pid)
		return nil
	}

	pkg := newPackager(t, recipe, new(failingRunner), WithProcessTable(list, kill, noOwner), WithExecutablePath(exePath))

	err := pkg.CleanOutputDir(context.Background())
	require.ErrorIs(t, err, guard.ErrBundleRunning)
	require.ErrorContains(t, err, "7001")
	require.NotContains(t, err.Error(), "7003")
	require.Empty(t, killed)

	pkg.killRunning = true
	require.NoError(t, pkg.CleanOutputDir(context.Background()))
	require.Equal(t, []int{7001}, killed)
}

// TestCleanOutputDir_IgnoresSameNamedProcess cleans while an unrelated program shares the target name.
func TestCleanOutputDir_IgnoresSameNamedProcess(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.Name = "sleep"
	require.NoError(t, config.Validate(recipe))

	exe := guard.ExecutableName(runtime.GOOS, recipe.Name)
	list := func() ([]ps.Process, error) {
		return []ps.Process{runningProcess{pid: 5267, exe: exe}}, nil
	}

	exePath := func(int) (string, error) { return filepath.Join(string(filepath.Separator), "usr", "bin", exe), nil }

	pkg := newPackager(t, recipe, new(failingRunner), WithProcessTable(list, nil, noOwner), WithExecutablePath(exePath))

	// Missing output folder.
	require.NoError(t, pkg.CleanOutputDir(context.Background()))

	// Existing bundle folder, process started elsewhere.
	require.NoError(t, os.MkdirAll(recipe.BundleDir(), 0o755))
	require.NoError(t, pkg.CleanOutputDir(context.Background()))

	_, err := os.Stat(recipe.OutputDir())
	require.ErrorIs(t, err, fs.ErrNotExist)
}

// TestBuildExecutable_ReturnsStatus reports the bundler status code.
func TestBuildExecutable_ReturnsStatus(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.Bundler.Console = true
	recipe.Icon = ""

	runner := &toolRunner{t: t, recipe: recipe, buildExit: 5}
	pkg := newPackager(t, recipe, runner)

	status, err := pkg.BuildExecutable(context.Background())
	require.Equal(t, 5, status)

	var stepErr *process.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "build", stepErr.Step)
	require.NotContains(t, runner.commands[0].Args, "--windowed")
	require.NotContains(t, runner.commands[0].Args, "--icon")

	runner.buildExit = 0
	status, err = pkg.BuildExecutable(context.Background())
	require.NoError(t, err)
	require.Zero(t, status)
}

// TestRun_RevealFailureIsIgnored finishes even when the file browser cannot start.
func TestRun_RevealFailureIsIgnored(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	runner := &revealFailingRunner{toolRunner: toolRunner{t: t, recipe: recipe}}

	require.NoError(t, newPackager(t, recipe, runner).Run(context.Background()))
	require.Len(t, runner.commands, 3)
}

// TestRun_SevenZipArchiver drives the external archiver with an explicit directory.
func TestRun_SevenZipArchiver(t *testing.T) {
	t.Parallel()

	recipe := newProject(t)
	recipe.Archive.Format = config.FormatSevenZip
	recipe.SkipReveal = true
	require.NoError(t, config.Validate(recipe))

	runner := &toolRunner{t: t, recipe: recipe}
	sevenZip := &recordingArchiver{}

	require.NoError(t, newPackager(t, recipe, runner, WithArchiver(sevenZip)).Run(context.Background()))
	require.Equal(t, recipe.BundleDir(), sevenZip.source)
	require.Equal(t, filepath.Join(recipe.OutputDir(), "MahjongCopilot.windows.7z"), sevenZip.target)
}

type runningProcess struct {
	pid int
	exe string
}

func (p runningProcess) Pid() int           { return p.pid }
func (p runningProcess) PPid() int          { return 1 }
func (p runningProcess) Executable() string { return p.exe }

// failingRunner fails to start the named tool and succeeds silently for the rest.
type failingRunner struct {
	name     string
	err      error
	commands []process.Command
}

func (r *failingRunner) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	r.commands = append(r.commands, cmd)

	if cmd.Name == r.name {
		return nil, r.err
	}

	return new(process.Result), nil
}

type revealFailingRunner struct {
	toolRunner
}

func (r *revealFailingRunner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	switch cmd.Name {
	case "explorer", "open", "xdg-open":
		r.commands = append(r.commands, cmd)
		return nil, errors.New("no display")
	default:
		return r.toolRunner.Run(ctx, cmd)
	}
}

type recordingArchiver struct {
	source string
	target string
}

func (a *recordingArchiver) Archive(_ context.Context, sourceDir, archivePath string) error {
	a.source = sourceDir
	a.target = archivePath

	return os.WriteFile(archivePath, []byte("7z"), 0o644)
}
