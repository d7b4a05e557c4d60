package install

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrMalformedArchive marks an archive that cannot be read or that tries to
// escape the extraction root.
var ErrMalformedArchive = errors.New("malformed package archive")

// extractTarGz unpacks a gzip-compressed tar archive into dest. Entries are
// normalized and rejected when they would resolve outside dest.
func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath) // #nosec G304 -- staged artifact path from the fetcher
	if err != nil {
		return fmt.Errorf("installer: open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("installer: %w: %w", ErrMalformedArchive, err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("installer: %w: %w", ErrMalformedArchive, err)
		}

		rel := path.Clean(strings.TrimPrefix(header.Name, "./"))
		if rel == "." || rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := ensureWithinRoot(dest, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fileMode(header.Mode, 0o755)); err != nil {
				return fmt.Errorf("installer: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("installer: mkdir for file %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(header.Mode, 0o644)) // #nosec G304
			if err != nil {
				return fmt.Errorf("installer: create file %s: %w", target, err)
			}
			// #nosec G110 -- packages come from a verified artifact, not arbitrary input
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return fmt.Errorf("installer: write file %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("installer: close file %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("installer: symlink %s: %w", target, err)
			}
		default:
			return fmt.Errorf("installer: %w: unsupported entry %q", ErrMalformedArchive, header.Name)
		}
	}
	return nil
}

func fileMode(mode int64, def os.FileMode) os.FileMode {
	if mode == 0 {
		return def
	}
	return os.FileMode(mode) & os.ModePerm
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("installer: %w: illegal path %s", ErrMalformedArchive, target)
	}
	return nil
}
