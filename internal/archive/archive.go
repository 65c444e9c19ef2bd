package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/distpack/internal/config"
	"github.com/oshokin/distpack/internal/process"
)

// Archiver produces archivePath from sourceDir.
type Archiver interface {
	Archive(ctx context.Context, sourceDir, archivePath string) error
}

// StepName identifies the archive step in errors.
const StepName = "archive"

var (
	// ErrUnsupportedFormat is returned for formats without an archiver.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrSourceNotDir is returned when the folder to archive is missing or is a file.
	ErrSourceNotDir = errors.New("archive source is not a directory")
)

// New returns the archiver for the given format.
func New(format, tool string, runner process.Runner) (Archiver, error) {
	switch format {
	case config.FormatSevenZip:
		return &SevenZip{Tool: tool, Runner: runner}, nil
	case config.FormatZip:
		return new(Zip), nil
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
}

// StagingPath returns the temporary name an archive is written under.
func StagingPath(archivePath string) string {
	ext := filepath.Ext(archivePath)
	return strings.TrimSuffix(archivePath, ext) + ".partial" + ext
}

func checkSource(sourceDir string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("%s: %w", sourceDir, errors.Join(ErrSourceNotDir, err))
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", sourceDir, ErrSourceNotDir)
	}

	return nil
}

// SevenZip archives with the external 7-Zip command line tool.
type SevenZip struct {
	// Tool is the 7z executable.
	Tool string
	// Runner executes the tool.
	Runner process.Runner
}

// Archive runs `7z a -t7z -y <archive> <folder>` from the parent of sourceDir.
func (s *SevenZip) Archive(ctx context.Context, sourceDir, archivePath string) error {
	if err := checkSource(sourceDir); err != nil {
		return err
	}

	staging := StagingPath(archivePath)
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale staging archive: %w", err)
	}

	absStaging, err := filepath.Abs(staging)
	if err != nil {
		return err
	}

	sourceDir = filepath.Clean(sourceDir)

	result, err := s.Runner.Run(ctx, process.Command{
		Name: s.Tool,
		Args: []string{"a", "-t7z", "-y", absStaging, filepath.Base(sourceDir)},
		Dir:  filepath.Dir(sourceDir),
	})
	if err != nil {
		return fmt.Errorf("run 7-Zip: %w", err)
	}

	if err = result.Check(StepName); err != nil {
		_ = os.Remove(staging)
		return err
	}

	return Promote(staging, archivePath)
}
