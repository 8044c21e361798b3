// Package exfatfs recursively extracts a decrypted exFAT image (files and
// directories) to a host directory, restoring each entry's access/modified
// timestamps.
package exfatfs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/util"
)

// Extractor implements container.ExFATExtractor against a real exFAT image
// opened from a decrypted container file.
type Extractor struct{}

// NewExtractor constructs a ready-to-use exFAT extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// image bundles the open file and parsed boot sector geometry needed to
// resolve cluster chains while walking the directory tree.
type image struct {
	f    *os.File
	boot bootSector
}

// Extract opens inputPath as an exFAT image and recursively copies its
// tree into a host directory named after inputPath's stem (same directory
// as the input), returning that directory's path.
func (e *Extractor) Extract(inputPath string) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", ferrors.NewFileError("open", inputPath, err)
	}
	defer f.Close()

	sector := make([]byte, 512)
	if _, err := io.ReadFull(f, sector); err != nil {
		return "", ferrors.NewFileError("read-boot-sector", inputPath, err)
	}
	boot, err := parseBootSector(sector)
	if err != nil {
		return "", err
	}

	img := &image{f: f, boot: boot}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	destRoot := filepath.Join(filepath.Dir(inputPath), stem)
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return "", ferrors.NewFileError("mkdir", destRoot, err)
	}

	rootBuf, err := img.readClusterChain(boot.rootDirCluster, false, 0)
	if err != nil {
		return "", err
	}

	if err := img.extractDir(rootBuf, destRoot); err != nil {
		return "", err
	}

	return destRoot, nil
}

// extractDir assembles the entry sets in a directory's raw bytes and
// copies each file, recursing into subdirectories.
func (img *image) extractDir(dirBuf []byte, destDir string) error {
	for _, entry := range parseDirEntrySets(dirBuf) {
		destPath := filepath.Join(destDir, entry.name)

		if entry.isDirectory {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return ferrors.NewFileError("mkdir", destPath, err)
			}
			childBuf, err := img.readClusterChain(entry.firstCluster, entry.noFatChain, entry.dataLength)
			if err != nil {
				return err
			}
			if err := img.extractDir(childBuf, destPath); err != nil {
				return err
			}
			img.applyTimes(destPath, entry)
			continue
		}

		if err := img.extractFile(entry, destPath); err != nil {
			return err
		}
	}
	return nil
}

func (img *image) extractFile(entry dirEntrySet, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return ferrors.NewFileError("create", destPath, err)
	}
	defer out.Close()

	writer := bufio.NewWriterSize(out, util.StreamBufferSize)
	remaining := entry.dataLength
	cluster := entry.firstCluster

	for remaining > 0 && cluster >= firstDataCluster {
		clusterBuf := make([]byte, img.boot.bytesPerCluster())
		if _, err := img.f.ReadAt(clusterBuf, img.boot.clusterOffset(cluster)); err != nil && err != io.EOF {
			return ferrors.NewFileError("read-cluster", destPath, err)
		}

		n := uint64(len(clusterBuf))
		if n > remaining {
			n = remaining
		}
		if _, err := writer.Write(clusterBuf[:n]); err != nil {
			return ferrors.NewFileError("write", destPath, err)
		}
		remaining -= n

		if entry.noFatChain {
			cluster++
			continue
		}
		next, err := img.nextCluster(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}

	if err := writer.Flush(); err != nil {
		return ferrors.NewFileError("flush", destPath, err)
	}

	img.applyTimes(destPath, entry)
	return nil
}

func (img *image) applyTimes(path string, entry dirEntrySet) {
	mtime := time.Unix(0, entry.modifiedUnixNano)
	atime := time.Unix(0, entry.accessedUnixNano)
	_ = os.Chtimes(path, atime, mtime)
}

// readClusterChain reads the full contents of a cluster chain starting at
// firstCluster. When noFatChain is true the chain is contiguous, the FAT is
// not consulted, and consecutive clusters are read until length bytes are
// covered (at least one cluster is always read).
func (img *image) readClusterChain(firstCluster uint32, noFatChain bool, length uint64) ([]byte, error) {
	var out []byte
	cluster := firstCluster
	seen := map[uint32]bool{}

	for cluster >= firstDataCluster {
		if seen[cluster] {
			return nil, fmt.Errorf("%w: cluster chain loop at %d", ferrors.ErrParse, cluster)
		}
		seen[cluster] = true

		buf := make([]byte, img.boot.bytesPerCluster())
		if _, err := img.f.ReadAt(buf, img.boot.clusterOffset(cluster)); err != nil && err != io.EOF {
			return nil, ferrors.NewFileError("read-cluster", "", err)
		}
		out = append(out, buf...)

		if noFatChain {
			if uint64(len(out)) >= length {
				break
			}
			cluster++
			continue
		}

		next, err := img.nextCluster(cluster)
		if err != nil {
			return nil, err
		}
		if next == fatEntryEOF || next == fatEntryBad || next < firstDataCluster {
			break
		}
		cluster = next
	}

	return out, nil
}

func (img *image) nextCluster(cluster uint32) (uint32, error) {
	entryOffset := img.boot.fatByteOffset() + int64(cluster)*4
	buf := make([]byte, 4)
	if _, err := img.f.ReadAt(buf, entryOffset); err != nil {
		return 0, ferrors.NewFileError("read-fat", "", err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}
