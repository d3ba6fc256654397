package artifact

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/giantswarm/pgenv/internal/fileutil"
)

// errNoPayload is returned when the downloaded jar contains no txz payload.
var errNoPayload = errors.New("jar contains no txz payload")

// extractJar extracts the txz payload inside the downloaded jar into binDir.
// Extraction goes through a sibling staging directory that is renamed into
// place on success, so an interrupted extraction can never leave a
// half-populated directory that a later storeValid check might half-trust.
// The caller holds the store file lock, so the staging path is not contended.
func extractJar(jarPath, binDir string) (retErr error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return fmt.Errorf("open jar: %w", err)
	}
	defer func() { _ = zr.Close() }()

	payload, err := findPayload(&zr.Reader)
	if err != nil {
		return err
	}

	staging := binDir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging directory: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := extractPayload(payload, staging); err != nil {
		return err
	}

	if err := os.RemoveAll(binDir); err != nil {
		return fmt.Errorf("clear previous extraction: %w", err)
	}
	if err := fileutil.EnsureDirForFile(binDir); err != nil {
		return err
	}
	if err := os.Rename(staging, binDir); err != nil {
		return fmt.Errorf("move extraction into place: %w", err)
	}
	return nil
}

// findPayload locates the txz archive inside the jar.
func findPayload(zr *zip.Reader) (*zip.File, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".txz") {
			return f, nil
		}
	}
	return nil, errNoPayload
}

// extractPayload streams the txz payload (xz-compressed tar) into dir.
func extractPayload(payload *zip.File, dir string) error {
	rc, err := payload.Open()
	if err != nil {
		return fmt.Errorf("open payload %s: %w", payload.Name, err)
	}
	defer func() { _ = rc.Close() }()

	xr, err := xz.NewReader(rc)
	if err != nil {
		return fmt.Errorf("open xz stream: %w", err)
	}

	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if err := extractEntry(tr, hdr, dir); err != nil {
			return err
		}
	}
}

// extractEntry writes a single tar entry under dir. Entries escaping dir are
// rejected; unsupported entry types are skipped.
func extractEntry(tr *tar.Reader, hdr *tar.Header, dir string) error {
	target, err := securePath(dir, hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return fileutil.EnsureDir(target)
	case tar.TypeReg:
		if err := fileutil.EnsureDirForFile(target); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", target, err)
		}
		return nil
	case tar.TypeSymlink:
		if err := fileutil.EnsureDirForFile(target); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replace symlink %s: %w", target, err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("create symlink %s: %w", target, err)
		}
		return nil
	default:
		// Hard links and device nodes do not occur in the distribution.
		return nil
	}
}

// securePath joins name onto dir, rejecting entries that would escape it.
func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry %q escapes extraction directory", name)
	}
	return target, nil
}
