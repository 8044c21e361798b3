// Package container orchestrates the per-file container decrypt pipeline:
// open input, decrypt header, select keys, determine the file IV, stream
// decrypt pages to an output file sized from header geometry, and
// optionally hand off to a kind-specific extractor.
package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/bootid"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/cryptoprim"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/keyloader"
	"github.com/ruminasu/fsdecrypt/internal/log"
	"github.com/ruminasu/fsdecrypt/internal/util"
)

const pageSize = util.PageSize

// pagePaceInterval bounds how often the per-page loop below reports
// progress into the batch aggregator, independent of the aggregator's own
// minEmitInterval coalescing toward the terminal.
const pagePaceInterval = 120 * time.Millisecond

// DecryptRequest parameterizes a sequential batch decrypt run.
type DecryptRequest struct {
	// Inputs are processed strictly in order; there is no parallelism
	// across files or pages.
	Inputs []string

	// KeyURL, if non-empty after trimming, is fetched instead of the
	// well-known local key file.
	KeyURL string

	// NoExtract skips the kind-specific extractor, leaving the decrypted
	// intermediate file in place.
	NoExtract bool

	// Extractors are injected so container has no import-time dependency
	// on a specific filesystem reader implementation.
	NTFS  NTFSExtractor
	ExFAT ExFATExtractor

	// Reporter receives coalesced batch progress events. May be nil.
	Reporter ProgressReporter
}

// FileResult is the per-input outcome of a decrypt batch.
type FileResult struct {
	Input    string
	Output   string
	Failed   bool
	Error    error
	Warnings []string
}

// DecryptSummary is the result of a whole batch: one FileResult per input,
// plus telemetry about which key source was used.
type DecryptSummary struct {
	Results      []FileResult
	KeySource    string
	KeyGameCount int
}

// Decrypt runs the sequential decrypt pipeline over req.Inputs. A
// per-file I/O or crypto error, or a captured panic, aborts only that
// file — the batch always produces one result per input.
func Decrypt(ctx context.Context, req *DecryptRequest) (*DecryptSummary, error) {
	keys, keySourceInfo, err := keyloader.Load(ctx, req.KeyURL)
	if err != nil {
		return nil, err
	}

	progress := NewBatchProgress(req.Reporter, len(req.Inputs))
	estimates := estimateOutputSizes(keys, req.Inputs)
	var total uint64
	for _, e := range estimates {
		total += e
	}
	progress.SetTotal(total)
	progress.Start()

	summary := &DecryptSummary{
		KeySource:    keySourceInfo.Source,
		KeyGameCount: keySourceInfo.GameCount,
	}

	var cumulative uint64
	for i, input := range req.Inputs {
		progress.FileStarted(input)
		result := decryptOneRecovered(ctx, input, keys, req.NoExtract, req.NTFS, req.ExFAT, progress)
		summary.Results = append(summary.Results, result)

		cumulative += estimates[i]
		progress.TopOffTo(cumulative)
	}

	progress.Done()
	return summary, nil
}

// estimateOutputSizes probes each input's BootID to estimate its plaintext
// size, falling back to the file's on-disk size when the header can't be
// read.
func estimateOutputSizes(keys *keyloader.Keys, inputs []string) []uint64 {
	estimates := make([]uint64, len(inputs))
	for i, input := range inputs {
		size, err := estimateOne(keys, input)
		if err != nil {
			if fi, statErr := os.Stat(input); statErr == nil {
				size = uint64(fi.Size())
			}
		}
		estimates[i] = size
	}
	return estimates
}

func estimateOne(keys *keyloader.Keys, input string) (uint64, error) {
	f, err := os.Open(input)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, bootid.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, err
	}

	h, err := bootid.DecryptAndDecode(buf, keys.BootIDKey, keys.BootIDIV)
	if err != nil {
		return 0, err
	}
	return h.OutputSize(), nil
}

// decryptOneRecovered wraps decryptOne with panic recovery so a crash
// during one file's decryption surfaces as a per-file error rather than
// aborting the batch.
func decryptOneRecovered(ctx context.Context, input string, keys *keyloader.Keys, noExtract bool, ntfs NTFSExtractor, exfat ExFATExtractor, progress *BatchProgress) (result FileResult) {
	result.Input = input
	defer func() {
		if r := recover(); r != nil {
			result.Failed = true
			result.Error = fmt.Errorf("%w: %v", ferrors.ErrPanicCaught, r)
			log.Error("panic during decrypt", log.String("input", input), log.Field{Key: "panic", Value: r})
		}
	}()

	output, warnings, err := decryptOne(ctx, input, keys, noExtract, ntfs, exfat, progress)
	if err != nil {
		result.Failed = true
		result.Error = err
		return result
	}
	result.Output = output
	result.Warnings = warnings
	return result
}

func decryptOne(ctx context.Context, input string, keys *keyloader.Keys, noExtract bool, ntfs NTFSExtractor, exfat ExFATExtractor, progress *BatchProgress) (string, []string, error) {
	f, err := os.Open(input)
	if err != nil {
		return "", nil, ferrors.NewFileError("open", input, err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, util.StreamBufferSize)

	headerBuf := make([]byte, bootid.Size)
	if _, err := io.ReadFull(reader, headerBuf); err != nil {
		return "", nil, ferrors.NewFileError("read-bootid", input, err)
	}

	h, err := bootid.DecryptAndDecode(headerBuf, keys.BootIDKey, keys.BootIDIV)
	if err != nil {
		return "", nil, err
	}

	key, configuredIV, expectedHeader, err := selectKeyMaterial(keys, h)
	if err != nil {
		return "", nil, err
	}

	dataOffset := h.HeaderBlockCount * h.BlockSize
	if _, err := f.Seek(int64(dataOffset), io.SeekStart); err != nil {
		return "", nil, ferrors.NewFileError("seek-data", input, err)
	}
	reader = bufio.NewReaderSize(f, util.StreamBufferSize)

	firstPage := make([]byte, pageSize)
	if _, err := io.ReadFull(reader, firstPage); err != nil {
		return "", nil, ferrors.NewFileError("read-first-page", input, err)
	}

	var fileIV [16]byte
	needRecover := h.UseCustomIV || configuredIV == nil
	if needRecover {
		fileIV, err = cryptoprim.FileIV(key, expectedHeader, firstPage)
		if err != nil {
			return "", nil, err
		}
	} else {
		fileIV = *configuredIV
	}

	outputSize := h.OutputSize()
	if outputSize == 0 || outputSize%pageSize != 0 {
		return "", nil, ferrors.NewHeaderError("output_size", fmt.Errorf("invalid output size %d", outputSize))
	}

	outPath := outputPath(input, h)
	out, err := os.Create(outPath)
	if err != nil {
		return "", nil, ferrors.NewFileError("create", outPath, err)
	}
	defer out.Close()

	if err := out.Truncate(int64(outputSize)); err != nil {
		return "", nil, ferrors.NewFileError("truncate", outPath, err)
	}

	writer := bufio.NewWriterSize(out, util.StreamBufferSize)

	page := util.GetPageBuffer()
	defer util.PutPageBuffer(page)
	copy(page, firstPage)

	var pageOffset uint64
	var pending uint64
	lastPaced := time.Now()
	first := true
	for pageOffset < outputSize {
		if !first {
			if _, err := io.ReadFull(reader, page); err != nil {
				return "", nil, ferrors.NewFileError("read-page", input, err)
			}
		}
		first = false

		if err := cryptoprim.DecryptPage(key, fileIV, pageOffset, page); err != nil {
			return "", nil, err
		}
		if _, err := writer.Write(page); err != nil {
			return "", nil, ferrors.NewFileError("write-page", outPath, err)
		}

		pageOffset += pageSize
		pending += pageSize

		// Bytes are accumulated every page but only forwarded to the batch
		// aggregator at most every pagePaceInterval, mirroring the
		// per-page reporting cadence asked for independently of the
		// aggregator's own coalescing toward the terminal.
		if now := time.Now(); now.Sub(lastPaced) >= pagePaceInterval || pageOffset >= outputSize {
			progress.AddBytes(pending)
			pending = 0
			lastPaced = now
		}
	}

	if err := writer.Flush(); err != nil {
		return "", nil, ferrors.NewFileError("flush", outPath, err)
	}

	if noExtract {
		return outPath, nil, nil
	}

	extractedPath, extractErr := extract(h, outPath, ntfs, exfat)
	if extractErr != nil {
		log.Warn("extractor failed, keeping intermediate file", log.String("output", outPath), log.Err(extractErr))
		return outPath, []string{extractErr.Error()}, nil
	}

	if err := os.Remove(outPath); err != nil {
		log.Warn("failed to remove intermediate file after extraction", log.String("output", outPath), log.Err(err))
	}
	return extractedPath, nil, nil
}

func selectKeyMaterial(keys *keyloader.Keys, h *bootid.BootID) (key [16]byte, configuredIV *[16]byte, expectedHeader [16]byte, err error) {
	switch h.ContainerType {
	case bootid.ContainerOS:
		gk, ok := keys.GameKeysFor(h.OSIDString())
		if !ok {
			return key, nil, expectedHeader, fmt.Errorf("%w: %s", ferrors.ErrKeyNotFound, h.OSIDString())
		}
		return gk.Key, gk.IV, cryptoprim.NTFSHeader, nil

	case bootid.ContainerApp:
		gk, ok := keys.GameKeysFor(h.GameIDString())
		if !ok {
			return key, nil, expectedHeader, fmt.Errorf("%w: %s", ferrors.ErrKeyNotFound, h.GameIDString())
		}
		return gk.Key, gk.IV, cryptoprim.NTFSHeader, nil

	case bootid.ContainerOption:
		return keys.OptionKey, &keys.OptionIV, cryptoprim.ExFATHeader, nil

	default:
		return key, nil, expectedHeader, fmt.Errorf("%w: %d", ferrors.ErrUnknownContainerType, uint8(h.ContainerType))
	}
}

func extract(h *bootid.BootID, outPath string, ntfs NTFSExtractor, exfat ExFATExtractor) (string, error) {
	switch h.ContainerType {
	case bootid.ContainerOS, bootid.ContainerApp:
		if ntfs == nil {
			return "", fmt.Errorf("no NTFS extractor configured")
		}
		return ntfs.Extract(outPath, h.SequenceNumber)
	case bootid.ContainerOption:
		if exfat == nil {
			return "", fmt.Errorf("no exFAT extractor configured")
		}
		return exfat.Extract(outPath)
	default:
		return "", fmt.Errorf("%w: %d", ferrors.ErrUnknownContainerType, uint8(h.ContainerType))
	}
}
