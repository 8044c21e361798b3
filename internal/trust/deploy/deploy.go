// Package deploy implements verification, deployment, and rollback of a
// trusted artifact against a game install root.
package deploy

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/log"
	"github.com/ruminasu/fsdecrypt/internal/trust/artifact"
	"github.com/ruminasu/fsdecrypt/internal/trust/cache"
	"github.com/ruminasu/fsdecrypt/internal/trust/hashutil"
	"github.com/ruminasu/fsdecrypt/internal/trust/manifest"
	"github.com/ruminasu/fsdecrypt/internal/util"
)

const backupDirName = "Segatools_Backup"

// CheckedFile is one file's comparison against the manifest's expected
// fingerprint.
type CheckedFile struct {
	Path           string `json:"path"`
	ExpectedSHA256 string `json:"expected_sha256"`
	ActualSHA256   string `json:"actual_sha256,omitempty"`
	Exists         bool   `json:"exists"`
	Matches        bool   `json:"matches"`
}

// TrustStatus is the composite result of comparing an install's on-disk
// files to the manifest-declared fingerprints.
type TrustStatus struct {
	Trusted        bool          `json:"trusted"`
	Reason         string        `json:"reason,omitempty"`
	BuildID        string        `json:"build_id,omitempty"`
	ArtifactName   string        `json:"artifact_name,omitempty"`
	ArtifactSHA256 string        `json:"artifact_sha256,omitempty"`
	GeneratedAt    string        `json:"generated_at,omitempty"`
	CheckedFiles   []CheckedFile `json:"checked_files"`
	HasBackup      bool          `json:"has_backup"`
	MissingFiles   bool          `json:"missing_files"`
	LocalBuildTime string        `json:"local_build_time,omitempty"`
}

func (s TrustStatus) toCacheStatus() cache.Status {
	return cache.Status{
		Trusted:        s.Trusted,
		Reason:         s.Reason,
		BuildID:        s.BuildID,
		ArtifactName:   s.ArtifactName,
		ArtifactSHA256: s.ArtifactSHA256,
		GeneratedAt:    s.GeneratedAt,
		MissingFiles:   s.MissingFiles,
	}
}

// BackupMetadata is persisted at <root>/Segatools_Backup/metadata.json.
type BackupMetadata struct {
	CreatedAt      string   `json:"created_at"`
	ArtifactName   string   `json:"artifact_name"`
	ArtifactSHA256 string   `json:"artifact_sha256"`
	BuildID        string   `json:"build_id,omitempty"`
	BackedUpFiles  []string `json:"backed_up_files"`
	NewFiles       []string `json:"new_files"`
}

// DeployResult is the outcome of a Deploy call.
type DeployResult struct {
	Deployed          bool     `json:"deployed"`
	NeedsConfirmation bool     `json:"needs_confirmation"`
	ExistingFiles     []string `json:"existing_files,omitempty"`
	Status            *TrustStatus
}

// Verify compares each of art's files against its on-disk counterpart
// under root, hashing mismatches' newest PE timestamp into
// LocalBuildTime. A cache hit short-circuits all disk I/O beyond the stat
// calls the cache itself performs.
func Verify(root string, art manifest.Artifact, c *cache.Cache) TrustStatus {
	paths := make([]string, 0, len(art.Files))
	for _, f := range art.Files {
		paths = append(paths, filepath.Join(root, f.Path))
	}

	if cached, ok := c.Get(root); ok && cached.ArtifactName == art.Name {
		return fromCacheStatus(cached, art, root)
	}

	status := verifyUncached(root, art)
	if err := c.Put(root, status.toCacheStatus(), paths); err != nil {
		log.GetLogger().Warn("trust cache write failed", log.String("root", root), log.Err(err))
	}
	return status
}

func fromCacheStatus(cached cache.Status, art manifest.Artifact, root string) TrustStatus {
	status := TrustStatus{
		Trusted:        cached.Trusted,
		Reason:         cached.Reason,
		BuildID:        cached.BuildID,
		ArtifactName:   cached.ArtifactName,
		ArtifactSHA256: cached.ArtifactSHA256,
		GeneratedAt:    cached.GeneratedAt,
		MissingFiles:   cached.MissingFiles,
		HasBackup:      hasBackup(root),
	}
	for _, f := range art.Files {
		status.CheckedFiles = append(status.CheckedFiles, CheckedFile{
			Path: f.Path, ExpectedSHA256: f.SHA256, ActualSHA256: f.SHA256, Exists: true, Matches: true,
		})
	}
	return status
}

func verifyUncached(root string, art manifest.Artifact) TrustStatus {
	status := TrustStatus{
		ArtifactName:   art.Name,
		ArtifactSHA256: art.SHA256,
		HasBackup:      hasBackup(root),
	}

	var newestMismatchTime time.Time

	for _, f := range art.Files {
		full := filepath.Join(root, f.Path)
		checked := CheckedFile{Path: f.Path, ExpectedSHA256: f.SHA256}

		if _, statErr := os.Stat(full); statErr != nil {
			status.MissingFiles = true
			status.CheckedFiles = append(status.CheckedFiles, checked)
			continue
		}
		checked.Exists = true

		actual, err := hashutil.SumFile(full)
		if err != nil {
			status.CheckedFiles = append(status.CheckedFiles, checked)
			continue
		}
		checked.ActualSHA256 = actual
		checked.Matches = strings.EqualFold(actual, f.SHA256)
		status.CheckedFiles = append(status.CheckedFiles, checked)

		if !checked.Matches {
			lower := strings.ToLower(f.Path)
			if strings.HasSuffix(lower, ".dll") || strings.HasSuffix(lower, ".exe") {
				if ts, ok := peTimestamp(full); ok && ts.After(newestMismatchTime) {
					newestMismatchTime = ts
				}
			}
		}
	}

	allMatch := len(status.CheckedFiles) > 0
	for _, cf := range status.CheckedFiles {
		if !cf.Matches {
			allMatch = false
			break
		}
	}
	status.Trusted = allMatch
	if !allMatch {
		status.Reason = "one or more files do not match the trusted manifest"
	}
	if !newestMismatchTime.IsZero() {
		status.LocalBuildTime = newestMismatchTime.Format("2006-01-02 15:04:05")
	}
	return status
}

func hasBackup(root string) bool {
	_, err := os.Stat(filepath.Join(root, backupDirName, "metadata.json"))
	return err == nil
}

// Deploy fetches and selects the artifact for gameName from m, downloads
// and verifies its hash, and extracts it over root. If any zip entry
// already exists under root and force is false, it returns
// NeedsConfirmation with those files and changes nothing on disk; with
// force true, the existing files are backed up before being overwritten.
func Deploy(ctx context.Context, root string, m *manifest.Manifest, gameName string, baseURL string, force bool, c *cache.Cache) (DeployResult, error) {
	art, err := artifact.SelectForGame(m, gameName)
	if err != nil {
		return DeployResult{}, err
	}

	dl, err := artifact.Download(ctx, baseURL, art)
	if err != nil {
		return DeployResult{}, err
	}
	defer os.Remove(dl.Path)

	zr, err := zip.OpenReader(dl.Path)
	if err != nil {
		return DeployResult{}, ferrors.NewFileError("open-zip", dl.Path, err)
	}
	defer zr.Close()

	entries := regularEntryNames(zr)
	existing := existingEntries(root, entries)

	if len(existing) > 0 && !force {
		return DeployResult{NeedsConfirmation: true, ExistingFiles: existing}, nil
	}

	if len(existing) > 0 {
		if err := backupExisting(root, entries, existing, art); err != nil {
			return DeployResult{}, err
		}
	}

	if err := extractZip(zr, root); err != nil {
		return DeployResult{}, err
	}

	if err := c.Invalidate(root); err != nil {
		log.GetLogger().Warn("trust cache invalidate failed after deploy", log.Err(err))
	}

	status := verifyUncached(root, art)
	return DeployResult{Deployed: true, Status: &status}, nil
}

// Rollback restores root from its Segatools_Backup directory: every
// backed-up file is copied back, and every file that did not previously
// exist is removed. The cached trust status is invalidated first so a
// failure partway through never leaves a stale "trusted" result cached.
func Rollback(root string, m *manifest.Manifest, gameName string, c *cache.Cache) (TrustStatus, error) {
	if err := c.Invalidate(root); err != nil {
		log.GetLogger().Warn("trust cache invalidate failed before rollback", log.Err(err))
	}

	metaPath := filepath.Join(root, backupDirName, "metadata.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return TrustStatus{}, fmt.Errorf("%w: no backup present at %s", ferrors.ErrNotFound, metaPath)
	}

	var meta BackupMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return TrustStatus{}, fmt.Errorf("%w: backup metadata: %v", ferrors.ErrParse, err)
	}

	for _, rel := range meta.BackedUpFiles {
		src := filepath.Join(root, backupDirName, "files", rel)
		dst := filepath.Join(root, rel)
		if err := copyFile(src, dst); err != nil {
			return TrustStatus{}, err
		}
	}
	for _, rel := range meta.NewFiles {
		dst := filepath.Join(root, rel)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return TrustStatus{}, ferrors.NewFileError("remove", dst, err)
		}
	}

	art, err := artifact.SelectForGame(m, gameName)
	if err != nil {
		return TrustStatus{}, err
	}
	status := verifyUncached(root, art)
	return status, nil
}

func regularEntryNames(zr *zip.ReadCloser) []string {
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, filepath.ToSlash(f.Name))
	}
	return names
}

func existingEntries(root string, entries []string) []string {
	var existing []string
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(root, e)); err == nil {
			existing = append(existing, e)
		}
	}
	return existing
}

// backupExisting wipes and recreates Segatools_Backup/, copies each
// existing entry into it, and writes metadata.json recording which
// entries pre-existed (backed_up_files) and which are wholly new
// (new_files).
func backupExisting(root string, entries, existing []string, art manifest.Artifact) error {
	backupRoot := filepath.Join(root, backupDirName)
	if err := os.RemoveAll(backupRoot); err != nil {
		return ferrors.NewFileError("remove", backupRoot, err)
	}
	filesDir := filepath.Join(backupRoot, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return ferrors.NewFileError("mkdir", filesDir, err)
	}

	existingSet := make(map[string]bool, len(existing))
	for _, e := range existing {
		existingSet[e] = true
	}

	for _, e := range existing {
		src := filepath.Join(root, e)
		dst := filepath.Join(filesDir, e)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ferrors.NewFileError("mkdir", filepath.Dir(dst), err)
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}

	var newFiles []string
	for _, e := range entries {
		if !existingSet[e] {
			newFiles = append(newFiles, e)
		}
	}

	meta := BackupMetadata{
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		ArtifactName:   art.Name,
		ArtifactSHA256: art.SHA256,
		BackedUpFiles:  existing,
		NewFiles:       newFiles,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return ferrors.Wrap(err, "marshal backup metadata")
	}
	metaPath := filepath.Join(backupRoot, "metadata.json")
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return ferrors.NewFileError("write", metaPath, err)
	}
	return nil
}

func extractZip(zr *zip.ReadCloser, root string) error {
	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("%w: malicious zip entry %q", ferrors.ErrParse, name)
		}
		dst := filepath.Join(root, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return ferrors.NewFileError("mkdir", dst, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ferrors.NewFileError("mkdir", filepath.Dir(dst), err)
		}

		rc, err := f.Open()
		if err != nil {
			return ferrors.NewFileError("open-entry", name, err)
		}
		out, err := os.Create(dst)
		if err != nil {
			rc.Close()
			return ferrors.NewFileError("create", dst, err)
		}
		buf := util.StreamPool.Get()
		_, copyErr := io.CopyBuffer(out, rc, buf)
		util.StreamPool.Put(buf)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return ferrors.NewFileError("write", dst, copyErr)
		}
		if closeErr != nil {
			return ferrors.NewFileError("close", dst, closeErr)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ferrors.NewFileError("open", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return ferrors.NewFileError("create", dst, err)
	}

	buf := util.StreamPool.Get()
	_, copyErr := io.CopyBuffer(out, in, buf)
	util.StreamPool.Put(buf)
	closeErr := out.Close()
	if copyErr != nil {
		return ferrors.NewFileError("copy", dst, copyErr)
	}
	if closeErr != nil {
		return ferrors.NewFileError("close", dst, closeErr)
	}
	return nil
}
