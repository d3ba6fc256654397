package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/giantswarm/pgenv/internal/core"
)

func testConfig(dataDir string) core.Config {
	return core.Config{
		Version: "17.2",
		Net:     core.Net{Host: "localhost", Port: 5432},
		Storage: core.Storage{Database: "postgres", Directory: dataDir},
		Timeouts: core.Timeouts{
			Start: 30 * time.Second,
			Stop:  5 * time.Second,
		},
		Credentials: core.Credentials{Username: "postgres", Password: "postgres"},
	}
}

// makeJar builds an in-memory platform jar: a zip holding a txz payload
// (xz-compressed tar) with the two server binaries the store validates.
func makeJar(t *testing.T) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if err := tw.WriteHeader(&tar.Header{Name: "bin/", Mode: 0o755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatalf("write tar dir: %v", err)
	}
	for _, name := range []string{"initdb", "postgres"} {
		body := []byte("#!/bin/sh\nexit 0\n")
		hdr := &tar.Header{
			Name:     "bin/" + name,
			Mode:     0o755,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}
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
	w, err := zw.Create("postgres-binaries.txz")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write(xzBuf.Bytes()); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return jar.Bytes()
}

// newMirror starts a test HTTP server that answers metadata and jar requests,
// counting every request it receives.
func newMirror(t *testing.T, metadata string, jar []byte) (*Store, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, "maven-metadata.xml") && metadata != "":
			fmt.Fprint(w, metadata)
		case strings.HasSuffix(r.URL.Path, ".jar") && jar != nil:
			_, _ = w.Write(jar)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return NewStore(StoreConfig{Mirror: srv.URL, Client: srv.Client()}), &requests
}

func TestResolveConcreteVersion(t *testing.T) {
	t.Parallel()

	// No mirror: concrete versions must resolve without any network I/O.
	store := NewStore(StoreConfig{Mirror: "http://127.0.0.1:1"})

	dist, err := store.Resolve(context.Background(), "17.2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dist.Version() != "17.2" {
		t.Fatalf("Version = %q, want %q", dist.Version(), "17.2")
	}
}

func TestResolveMalformedVersion(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{})

	for _, version := range []string{"", "17.x", "v17", "17.2.0.1", "latest-1"} {
		_, err := store.Resolve(context.Background(), version)
		if !errors.Is(err, core.ErrUnknownVersion) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnknownVersion", version, err)
		}
	}
}

func TestResolveLatest(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		metadata string
		want     string
		wantErr  error
	}{
		"release entry": {
			metadata: `<metadata><versioning><release>17.2.0</release><latest>18.0.0-beta1</latest></versioning></metadata>`,
			want:     "17.2.0",
		},
		"latest only": {
			metadata: `<metadata><versioning><latest>17.1.0</latest></versioning></metadata>`,
			want:     "17.1.0",
		},
		"versions list only": {
			metadata: `<metadata><versioning><versions><version>16.4.0</version><version>17.0.0</version></versions></versioning></metadata>`,
			want:     "17.0.0",
		},
		"empty document": {
			metadata: `<metadata><versioning></versioning></metadata>`,
			wantErr:  core.ErrUnknownVersion,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, _ := newMirror(t, tc.metadata, nil)
			dist, err := store.Resolve(context.Background(), core.VersionLatest)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Resolve error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if dist.Version() != tc.want {
				t.Fatalf("Version = %q, want %q", dist.Version(), tc.want)
			}
		})
	}
}

func TestResolveLatestNoMetadata(t *testing.T) {
	t.Parallel()

	store, _ := newMirror(t, "", nil) // everything 404s

	_, err := store.Resolve(context.Background(), core.VersionLatest)
	if !errors.Is(err, core.ErrUnknownVersion) {
		t.Fatalf("Resolve error = %v, want ErrUnknownVersion", err)
	}
}

func TestPrepareDownloadsOnceAndCaches(t *testing.T) {
	t.Parallel()

	store, requests := newMirror(t, "", makeJar(t))
	env := core.NewEnvironment(t.TempDir(), nil)
	cfg := testConfig(t.TempDir())

	dist, err := store.Resolve(context.Background(), "17.2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	exe, err := dist.Prepare(context.Background(), cfg, env)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if exe == nil {
		t.Fatal("Prepare returned nil executable")
	}

	binDir := filepath.Join(env.StoreDir(), "17.2", platformKey())
	if !storeValid(binDir) {
		t.Fatalf("store at %s is not valid after Prepare", binDir)
	}
	after := requests.Load()
	if after != 1 {
		t.Fatalf("request count after first Prepare = %d, want 1", after)
	}

	// A second prepare of the same version must reuse the extraction.
	if _, err := dist.Prepare(context.Background(), cfg, env); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if got := requests.Load(); got != after {
		t.Fatalf("request count after second Prepare = %d, want %d", got, after)
	}
}

func TestPrepareWarmStoreSkipsNetwork(t *testing.T) {
	t.Parallel()

	store, requests := newMirror(t, "", nil) // any request would 404 and fail
	env := core.NewEnvironment(t.TempDir(), nil)

	// Pre-populate a valid extraction by hand.
	binDir := filepath.Join(env.StoreDir(), "16.4", platformKey(), "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"initdb", "postgres"} {
		if err := os.WriteFile(filepath.Join(binDir, exeName(name)), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	dist, err := store.Resolve(context.Background(), "16.4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := dist.Prepare(context.Background(), testConfig(t.TempDir()), env); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := requests.Load(); got != 0 {
		t.Fatalf("warm Prepare performed %d requests, want 0", got)
	}
}

func TestPrepareUnknownVersion(t *testing.T) {
	t.Parallel()

	store, _ := newMirror(t, "", nil) // jar downloads 404
	env := core.NewEnvironment(t.TempDir(), nil)

	dist, err := store.Resolve(context.Background(), "99.9")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err = dist.Prepare(context.Background(), testConfig(t.TempDir()), env)
	if !errors.Is(err, core.ErrUnknownVersion) {
		t.Fatalf("Prepare error = %v, want ErrUnknownVersion", err)
	}
}
