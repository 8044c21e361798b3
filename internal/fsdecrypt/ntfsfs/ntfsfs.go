// Package ntfsfs extracts the inner VHD payload from a decrypted NTFS
// image: it locates the well-known internal_<sequence>.vhd entry in the
// root directory index, copies its unnamed data stream to disk, and
// restores the source timestamps recorded in its StandardInformation
// attribute.
package ntfsfs

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"www.velocidex.com/golang/go-ntfs/parser"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/log"
	"github.com/ruminasu/fsdecrypt/internal/util"
)

// ntfsEpochToUnixOffset is the number of 100-ns intervals between the
// Windows epoch (1601-01-01) and the Unix epoch (1970-01-01).
const ntfsEpochToUnixOffset = 116_444_736_000_000_000

// ntfsTimeToUnixNano converts a Windows FILETIME (100-ns intervals since
// 1601-01-01) to Unix nanoseconds since 1970-01-01. Times outside the
// int64 nanosecond range saturate to math.MinInt64 / math.MaxInt64.
func ntfsTimeToUnixNano(filetime uint64) int64 {
	hundredNsSinceUnixEpoch := int64(filetime) - ntfsEpochToUnixOffset
	if hundredNsSinceUnixEpoch < math.MinInt64/100 {
		return math.MinInt64
	}
	if hundredNsSinceUnixEpoch > math.MaxInt64/100 {
		return math.MaxInt64
	}
	return hundredNsSinceUnixEpoch * 100
}

// Extractor implements container.NTFSExtractor against a real NTFS image
// opened from a decrypted container file.
type Extractor struct{}

// NewExtractor constructs a ready-to-use NTFS extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract opens inputPath as an NTFS image, looks up
// internal_<sequenceNumber>.vhd in the root directory, and copies its
// unnamed data stream to <inputPath-without-extension>.vhd, applying the
// source file's access/modified timestamps to the output.
func (e *Extractor) Extract(inputPath string, sequenceNumber uint8) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", ferrors.NewFileError("open", inputPath, err)
	}
	defer f.Close()

	paged, err := parser.NewPagedReader(f, 0x1000, 1024)
	if err != nil {
		return "", ferrors.NewFileError("ntfs-paged-reader", inputPath, err)
	}

	ntfsCtx, err := parser.GetNTFSContext(paged, 0)
	if err != nil {
		return "", ferrors.NewFileError("ntfs-context", inputPath, err)
	}

	root, err := ntfsCtx.GetMFT(5)
	if err != nil {
		return "", ferrors.NewFileError("ntfs-root-dir", inputPath, err)
	}

	wantName := fmt.Sprintf("internal_%d.vhd", sequenceNumber)
	var found *parser.MFT_ENTRY
	for _, child := range root.Dir(ntfsCtx) {
		if strings.EqualFold(child.Name(ntfsCtx), wantName) {
			found = child
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("%w: %s in ntfs image %s", ferrors.ErrNotFound, wantName, inputPath)
	}

	outputPath := replaceExt(inputPath, ".vhd")
	out, err := os.Create(outputPath)
	if err != nil {
		return "", ferrors.NewFileError("create", outputPath, err)
	}
	defer out.Close()

	writer := bufio.NewWriterSize(out, util.StreamBufferSize)
	reader, err := found.Data(ntfsCtx)
	if err != nil {
		return "", ferrors.NewFileError("ntfs-open-stream", inputPath, err)
	}

	if _, err := io.CopyBuffer(writer, reader, util.StreamPool.Get()); err != nil {
		return "", ferrors.NewFileError("copy", outputPath, err)
	}
	if err := writer.Flush(); err != nil {
		return "", ferrors.NewFileError("flush", outputPath, err)
	}

	si := found.StandardInformation(ntfsCtx)
	if si != nil {
		mtime := time.Unix(0, ntfsTimeToUnixNano(si.File_altered_time()))
		atime := time.Unix(0, ntfsTimeToUnixNano(si.File_accessed_time()))
		if err := os.Chtimes(outputPath, atime, mtime); err != nil {
			log.Warn("failed to restore timestamps on extracted vhd", log.String("path", outputPath), log.Err(err))
		}
	}

	return outputPath, nil
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newExt
}
