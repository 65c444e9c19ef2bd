package archive

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/distpack/internal/manifest"
)

// archiveFileMode is the mode of promoted archives.
const archiveFileMode os.FileMode = 0o644

// Promote moves a finished staging archive to its final path. The content is
// verified against the staging checksum while being applied, and any previous
// archive at the final path is replaced.
func Promote(staging, final string) error {
	checksum, err := manifest.FileChecksum(staging)
	if err != nil {
		return fmt.Errorf("checksum staging archive: %w", err)
	}

	created := false

	if _, err = os.Stat(final); errors.Is(err, os.ErrNotExist) {
		// go-update renames the existing target aside, so one must exist.
		var placeholder *os.File

		placeholder, err = os.Create(filepath.Clean(final))
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}

		_ = placeholder.Close()
		created = true
	}

	source, err := os.Open(filepath.Clean(staging))
	if err != nil {
		return fmt.Errorf("open staging archive: %w", err)
	}

	options := goupdate.Options{
		TargetPath: final,
		TargetMode: archiveFileMode,
		Checksum:   checksum,
		Hash:       manifest.ChecksumFunction,
	}

	applyErr := goupdate.Apply(bufio.NewReader(source), options)
	_ = source.Close()

	if applyErr != nil {
		if created {
			_ = os.Remove(final)
		}

		return fmt.Errorf("promote archive: %w", applyErr)
	}

	if err = os.Remove(staging); err != nil {
		return fmt.Errorf("remove staging archive: %w", err)
	}

	return nil
}
