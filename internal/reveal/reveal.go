// Package reveal opens a folder in the desktop file browser.
// Failures are logged and otherwise ignored.
package reveal

import (
	"context"
	"path/filepath"
	"runtime"

	"github.com/oshokin/distpack/internal/logger"
	"github.com/oshokin/distpack/internal/process"
)

// Command returns the launcher invocation for goos.
func Command(goos, path string) process.Command {
	switch goos {
	case "windows":
		return process.Command{Name: "explorer", Args: []string{filepath.Clean(path)}}
	case "darwin":
		return process.Command{Name: "open", Args: []string{path}}
	default:
		return process.Command{Name: "xdg-open", Args: []string{path}}
	}
}

// Open shows path in the file browser of the current platform.
func Open(ctx context.Context, runner process.Runner, path string) {
	cmd := Command(runtime.GOOS, path)

	result, err := runner.Run(ctx, cmd)
	if err != nil {
		logger.WarnKV(ctx, "Could not open the file browser", "path", path, "error", err)
		return
	}

	// explorer.exe exits with 1 even when the window opened.
	if result.ExitCode != 0 && runtime.GOOS != "windows" {
		logger.WarnKV(ctx, "File browser exited with an error", "path", path, "exit_code", result.ExitCode)
	}
}
