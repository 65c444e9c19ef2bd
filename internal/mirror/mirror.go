package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// PlaceholderFilename is the note written into folders whose source is missing.
const PlaceholderFilename = "PLACEHOLDER.txt"

const (
	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

// ErrSourceMissing is returned when the source of a copy does not exist.
var ErrSourceMissing = errors.New("source does not exist")

// Stats summarizes a copy.
type Stats struct {
	// Files is the number of regular files copied.
	Files int
	// Dirs is the number of directories created, the root included.
	Dirs int
	// Bytes is the total size of copied files.
	Bytes int64
}

// Tree mirrors src into dst. When src is a directory, dst becomes an exact
// copy of it. When src is a file, it is copied into the dst directory.
func Tree(src, dst string) (Stats, error) {
	return copyTree(src, dst, true)
}

// Merge is Tree without clearing dst first; existing files not present in src are kept.
func Merge(src, dst string) (Stats, error) {
	return copyTree(src, dst, false)
}

func copyTree(src, dst string, clear bool) (Stats, error) {
	var stats Stats

	// The root is followed so a symlinked folder is mirrored, not linked.
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return stats, fmt.Errorf("%s: %w", src, ErrSourceMissing)
	}

	if err != nil {
		return stats, fmt.Errorf("stat %s: %w", src, err)
	}

	if !info.IsDir() {
		if err = os.MkdirAll(dst, dirMode); err != nil {
			return stats, fmt.Errorf("create %s: %w", dst, err)
		}

		err = copyEntry(src, filepath.Join(dst, filepath.Base(src)), info, &stats)

		return stats, err
	}

	if clear {
		if err = os.RemoveAll(dst); err != nil {
			return stats, fmt.Errorf("clear %s: %w", dst, err)
		}
	}

	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return stats, fmt.Errorf("resolve %s: %w", src, err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entryInfo, err := d.Info()
		if err != nil {
			return err
		}

		return copyEntry(path, filepath.Join(dst, rel), entryInfo, &stats)
	})
	if err != nil {
		return stats, fmt.Errorf("mirror %s: %w", src, err)
	}

	return stats, nil
}

// Placeholder creates dst and writes a note explaining what belongs there.
func Placeholder(dst, note string) error {
	if err := os.MkdirAll(dst, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	path := filepath.Join(dst, PlaceholderFilename)
	if err := os.WriteFile(path, []byte(note+"\n"), fileMode); err != nil {
		return fmt.Errorf("write placeholder: %w", err)
	}

	return nil
}

func copyEntry(src, dst string, info fs.FileInfo, stats *Stats) error {
	switch mode := info.Mode(); {
	case mode.IsDir():
		if err := os.MkdirAll(dst, mode.Perm()|0o700); err != nil {
			return err
		}

		stats.Dirs++

		return nil
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}

		_ = os.Remove(dst)

		return os.Symlink(target, dst)
	case mode.IsRegular():
		n, err := copyFile(src, dst, mode.Perm())
		if err != nil {
			return err
		}

		stats.Files++
		stats.Bytes += n

		return nil
	default:
		// Sockets, devices and pipes have no place in a distribution.
		return nil
	}
}

func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, err
	}

	return n, out.Close()
}
