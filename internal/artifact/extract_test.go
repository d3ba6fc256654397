package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

// writeJarFile assembles a jar on disk from tar entries.
func writeJarFile(t *testing.T, entries []*tar.Header, bodies map[string][]byte) string {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, hdr := range entries {
		body := bodies[hdr.Name]
		hdr.Size = int64(len(body))
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("write tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("create xz writer: %v", err)
	}
	if _, err := xw.Write(tarBuf.Bytes()); err != nil {
		t.Fatalf("write xz: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close xz: %v", err)
	}

	var jar bytes.Buffer
	zw := zip.NewWriter(&jar)
	w, err := zw.Create("payload.txz")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write(xzBuf.Bytes()); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	path := filepath.Join(t.TempDir(), "dist.jar")
	if err := os.WriteFile(path, jar.Bytes(), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}
	return path
}

func TestExtractJar(t *testing.T) {
	t.Parallel()

	jarPath := writeJarFile(t,
		[]*tar.Header{
			{Name: "bin/", Mode: 0o755, Typeflag: tar.TypeDir},
			{Name: "bin/postgres", Mode: 0o755, Typeflag: tar.TypeReg},
			{Name: "share/postgresql.conf.sample", Mode: 0o644, Typeflag: tar.TypeReg},
			{Name: "bin/pg_ctl", Mode: 0o755, Typeflag: tar.TypeSymlink, Linkname: "postgres"},
		},
		map[string][]byte{
			"bin/postgres":                 []byte("server"),
			"share/postgresql.conf.sample": []byte("# sample\n"),
		},
	)

	binDir := filepath.Join(t.TempDir(), "17.2", "linux-amd64")
	if err := extractJar(jarPath, binDir); err != nil {
		t.Fatalf("extractJar: %v", err)
	}

	server := filepath.Join(binDir, "bin", "postgres")
	info, err := os.Stat(server)
	if err != nil {
		t.Fatalf("stat extracted binary: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("extracted binary mode = %v, want executable", info.Mode())
	}
	if _, err := os.Stat(filepath.Join(binDir, "share", "postgresql.conf.sample")); err != nil {
		t.Fatalf("stat extracted sample: %v", err)
	}
	if link, err := os.Readlink(filepath.Join(binDir, "bin", "pg_ctl")); err != nil || link != "postgres" {
		t.Fatalf("symlink = %q, %v; want %q, nil", link, err, "postgres")
	}
	if _, err := os.Stat(binDir + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("staging directory left behind: %v", err)
	}
}

func TestExtractJarRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	jarPath := writeJarFile(t,
		[]*tar.Header{
			{Name: "../evil", Mode: 0o644, Typeflag: tar.TypeReg},
		},
		map[string][]byte{"../evil": []byte("nope")},
	)

	parent := t.TempDir()
	binDir := filepath.Join(parent, "bin-dir")
	if err := extractJar(jarPath, binDir); err == nil {
		t.Fatal("expected error for escaping tar entry")
	}
	if _, err := os.Stat(filepath.Join(parent, "evil")); !os.IsNotExist(err) {
		t.Fatal("escaping entry was written outside the extraction directory")
	}
	if _, err := os.Stat(binDir + ".partial"); !os.IsNotExist(err) {
		t.Fatal("staging directory left behind after failed extraction")
	}
}

func TestExtractJarWithoutPayload(t *testing.T) {
	t.Parallel()

	var jar bytes.Buffer
	zw := zip.NewWriter(&jar)
	w, err := zw.Create("META-INF/MANIFEST.MF")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("Manifest-Version: 1.0\n")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	jarPath := filepath.Join(t.TempDir(), "empty.jar")
	if err := os.WriteFile(jarPath, jar.Bytes(), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}

	err = extractJar(jarPath, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, errNoPayload) {
		t.Fatalf("extractJar error = %v, want errNoPayload", err)
	}
}
