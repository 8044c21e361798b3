// Package artifact downloads a selected manifest artifact to a temp file,
// verifies its SHA-256, and enumerates its interior binaries.
package artifact

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/trust/hashutil"
	"github.com/ruminasu/fsdecrypt/internal/trust/httpclient"
	"github.com/ruminasu/fsdecrypt/internal/trust/manifest"
)

const (
	connectTimeout = 10 * time.Second
	totalTimeout   = 60 * time.Second
)

// Downloaded is a fetched, hash-verified artifact sitting at a temp path.
// Callers must remove Path when finished with it.
type Downloaded struct {
	Path   string
	SHA256 string
	Size   int64
	Files  []manifest.FileEntry
}

// Download fetches baseURL+"/"+art.R2Key to a uniquely named temp file,
// verifies its SHA-256 against the manifest entry (when non-empty) and
// its size, and synthesizes Files by enumerating the zip when the
// manifest didn't list any.
func Download(ctx context.Context, baseURL string, art manifest.Artifact) (*Downloaded, error) {
	client := httpclient.New(httpclient.Config{ConnectTimeout: connectTimeout, TotalTimeout: totalTimeout})

	url := baseURL + "/" + art.R2Key
	resp, err := httpclient.Open(ctx, client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	tmpPath := tempPath(art.Name)
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, ferrors.NewFileError("create", tmpPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return nil, ferrors.NewFileError("download", tmpPath, err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return nil, ferrors.NewFileError("close", tmpPath, closeErr)
	}

	if art.Size != 0 && written != art.Size {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: artifact %s size %d, expected %d", ferrors.ErrArtifactShaMismatch, art.Name, written, art.Size)
	}

	sum, err := hashutil.SumFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if art.SHA256 != "" && !strings.EqualFold(sum, art.SHA256) {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: artifact %s sha256 %s, expected %s", ferrors.ErrArtifactShaMismatch, art.Name, sum, art.SHA256)
	}

	files := art.Files
	if len(files) == 0 {
		files, err = enumerateBinaries(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return nil, err
		}
	}

	return &Downloaded{Path: tmpPath, SHA256: sum, Size: written, Files: files}, nil
}

func tempPath(artifactName string) string {
	return fmt.Sprintf("%s%cfsdecrypt-artifact-%s-%s", os.TempDir(), os.PathSeparator, uuid.NewString(), artifactName)
}

// enumerateBinaries opens zipPath and hashes every regular .dll/.exe entry
// whose cleaned path is well-formed, synthesizing a files[] list.
func enumerateBinaries(zipPath string) ([]manifest.FileEntry, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, ferrors.NewFileError("open-zip", zipPath, err)
	}
	defer r.Close()

	var out []manifest.FileEntry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean, ok := cleanZipPath(f.Name)
		if !ok {
			continue
		}
		lower := strings.ToLower(clean)
		if !strings.HasSuffix(lower, ".dll") && !strings.HasSuffix(lower, ".exe") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, ferrors.NewFileError("open-entry", clean, err)
		}
		sum, err := hashutil.SumReader(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		out = append(out, manifest.FileEntry{
			Path:   clean,
			Size:   int64(f.UncompressedSize64),
			SHA256: sum,
		})
	}
	return out, nil
}

// cleanZipPath normalizes a zip entry name and rejects unsafe paths:
// backslashes become slashes, a leading slash is stripped, and empty,
// trailing-slash, or ".."-containing names are rejected.
func cleanZipPath(name string) (string, bool) {
	cleaned := strings.ReplaceAll(name, `\`, "/")
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || strings.HasSuffix(cleaned, "/") {
		return "", false
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", false
		}
	}
	return path.Clean(cleaned), true
}
