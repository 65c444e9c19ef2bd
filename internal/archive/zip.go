package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Zip archives with the built-in zip writer.
type Zip struct{}

// Archive writes every file and directory of sourceDir under a top-level folder named after it.
func (z *Zip) Archive(ctx context.Context, sourceDir, archivePath string) error {
	if err := checkSource(sourceDir); err != nil {
		return err
	}

	staging := StagingPath(archivePath)

	if err := writeZip(ctx, filepath.Clean(sourceDir), staging); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("write zip: %w", err)
	}

	return Promote(staging, archivePath)
}

func writeZip(ctx context.Context, sourceDir, target string) error {
	out, err := os.Create(filepath.Clean(target))
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(out)
	root := filepath.Base(sourceDir)

	walkErr := filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err = ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return addEntry(zipWriter, p, path.Join(root, filepath.ToSlash(rel)), info)
	})

	closeErr := zipWriter.Close()
	fileErr := out.Close()

	return errors.Join(walkErr, closeErr, fileErr)
}

// addEntry writes one directory, regular file or symlink. Symlinks are stored
// with their mode and the link target as the body, as Info-ZIP does.
func addEntry(zipWriter *zip.Writer, src, name string, info fs.FileInfo) error {
	mode := info.Mode()
	if !info.IsDir() && !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
		return nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name

	switch {
	case info.IsDir():
		header.Name += "/"
		header.Method = zip.Store
	case mode&fs.ModeSymlink != 0:
		header.Method = zip.Store
	default:
		header.Method = zip.Deflate
	}

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return nil
	}

	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}

		_, err = io.WriteString(writer, filepath.ToSlash(target))

		return err
	}

	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	_, err = io.Copy(writer, file)

	return err
}

// Entries lists the entry names of a zip archive in sorted order.
// Directory entries end with a slash.
func Entries(archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}

	sort.Strings(names)

	return names, nil
}
