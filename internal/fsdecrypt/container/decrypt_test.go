package container

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/bootid"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/cryptoprim"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/keyloader"
)

type fakeNTFS struct {
	calledWith string
	seq        uint8
	out        string
	err        error
}

func (f *fakeNTFS) Extract(inputPath string, sequenceNumber uint8) (string, error) {
	f.calledWith = inputPath
	f.seq = sequenceNumber
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type fakeExFAT struct {
	calledWith string
	out        string
	err        error
}

func (f *fakeExFAT) Extract(inputPath string) (string, error) {
	f.calledWith = inputPath
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func encryptBlock(t *testing.T, key, iv [16]byte, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	enc := cipher.NewCBCEncrypter(block, iv[:])
	out := make([]byte, len(plain))
	enc.CryptBlocks(out, plain)
	return out
}

func buildPlainBootID(t *testing.T, containerType bootid.ContainerType, seq uint8, gameID, optionStr string, blockCount, blockSize, headerBlockCount uint64) []byte {
	t.Helper()
	buf := make([]byte, bootid.Size)
	binary.LittleEndian.PutUint32(buf[0:4], 1)
	binary.LittleEndian.PutUint32(buf[4:8], bootid.Size)
	copy(buf[8:12], []byte("BOOT"))
	buf[13] = byte(containerType)
	buf[14] = seq
	buf[15] = 0 // use_custom_iv = false
	copy(buf[16:20], []byte(gameID))
	binary.LittleEndian.PutUint16(buf[20:22], 2026)
	buf[22], buf[23], buf[24], buf[25], buf[26] = 7, 30, 12, 0, 0
	if containerType == bootid.ContainerOption {
		copy(buf[28:32], []byte(optionStr))
	} else {
		buf[28], buf[29] = 1, 2
		binary.LittleEndian.PutUint16(buf[30:32], 3)
	}
	binary.LittleEndian.PutUint64(buf[32:40], blockCount)
	binary.LittleEndian.PutUint64(buf[40:48], blockSize)
	binary.LittleEndian.PutUint64(buf[48:56], headerBlockCount)
	copy(buf[64:67], []byte("WIN"))
	buf[67] = 1
	return buf
}

// buildContainerFile assembles an on-disk encrypted container: an
// encrypted BootID zero-padded to one header block of blockSize bytes, then
// AES-CBC page-encrypted payload with per-page tweaked IVs derived from
// fileIV.
func buildContainerFile(t *testing.T, dir, name string, plainBootID []byte, bootidKey, bootidIV [16]byte, key, fileIV [16]byte, payload []byte, blockSize uint64) string {
	t.Helper()
	path := filepath.Join(dir, name)

	headerBlock := make([]byte, blockSize)
	encHeader := encryptBlock(t, bootidKey, bootidIV, plainBootID)
	copy(headerBlock, encHeader)

	var out []byte
	out = append(out, headerBlock...)

	for off := uint64(0); off < uint64(len(payload)); off += pageSize {
		page := payload[off : off+pageSize]
		pageIV := cryptoprim.PageIV(off, fileIV)
		enc := encryptBlock(t, key, pageIV, page)
		out = append(out, enc...)
	}

	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func TestDecryptOptionWithConfiguredIV(t *testing.T) {
	dir := t.TempDir()

	var bootidKey, bootidIV, optionKey, optionIV [16]byte
	for i := 0; i < 16; i++ {
		bootidKey[i] = byte(i + 1)
		bootidIV[i] = byte(200 - i)
		optionKey[i] = byte(i * 2)
		optionIV[i] = byte(i*2 + 1)
	}

	plainHeader := buildPlainBootID(t, bootid.ContainerOption, 1, "", "OPT1", 3, pageSize, 1)
	payload := make([]byte, 2*pageSize)
	copy(payload, cryptoprim.ExFATHeader[:])
	for i := 16; i < len(payload); i++ {
		payload[i] = byte(i)
	}

	path := buildContainerFile(t, dir, "container.bin", plainHeader, bootidKey, bootidIV, optionKey, optionIV, payload, pageSize)

	keysPath := filepath.Join(dir, keyloader.DefaultKeysFilename)
	keysJSON := buildKeysJSON(bootidKey, bootidIV, optionKey, optionIV, nil)
	require.NoError(t, os.WriteFile(keysPath, []byte(keysJSON), 0o644))

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	fe := &fakeExFAT{out: filepath.Join(dir, "extracted")}
	summary, err := Decrypt(context.Background(), &DecryptRequest{
		Inputs: []string{path},
		ExFAT:  fe,
	})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)

	res := summary.Results[0]
	assert.False(t, res.Failed, "%v", res.Error)
	assert.Equal(t, fe.out, res.Output)
	assert.Empty(t, res.Warnings)

	// Intermediate .exfat file should have been removed after extraction.
	_, statErr := os.Stat(filepath.Join(dir, "_OPT1_20260730120000_1.exfat"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecryptUnknownContainerTypeProducesPerFileError(t *testing.T) {
	dir := t.TempDir()
	var bootidKey, bootidIV [16]byte
	for i := 0; i < 16; i++ {
		bootidKey[i] = byte(i + 1)
		bootidIV[i] = byte(200 - i)
	}

	plainHeader := buildPlainBootID(t, bootid.ContainerType(9), 0, "CHU", "", 2, pageSize, 1)
	path := filepath.Join(dir, "bad.bin")
	block := make([]byte, pageSize)
	copy(block, encryptBlock(t, bootidKey, bootidIV, plainHeader))
	require.NoError(t, os.WriteFile(path, block, 0o644))

	keysPath := filepath.Join(dir, keyloader.DefaultKeysFilename)
	require.NoError(t, os.WriteFile(keysPath, []byte(buildKeysJSON(bootidKey, bootidIV, [16]byte{}, [16]byte{}, nil)), 0o644))

	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	summary, err := Decrypt(context.Background(), &DecryptRequest{Inputs: []string{path}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Failed)
}

func buildKeysJSON(bootidKey, bootidIV, optionKey, optionIV [16]byte, gameIV *[16]byte) string {
	hx := func(b [16]byte) string {
		const hextable = "0123456789abcdef"
		out := make([]byte, 32)
		for i, v := range b {
			out[i*2] = hextable[v>>4]
			out[i*2+1] = hextable[v&0xF]
		}
		return string(out)
	}
	return `{
		"bootid": {"key": "` + hx(bootidKey) + `", "iv": "` + hx(bootidIV) + `"},
		"option": {"key": "` + hx(optionKey) + `", "iv": "` + hx(optionIV) + `"},
		"games": {
			"CHU": {"key": "` + hx(optionKey) + `"}
		}
	}`
}
