package bootid

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPlainBootID(t *testing.T, containerType ContainerType, seq uint8, gameID string, blockCount, blockSize, headerBlockCount uint64) []byte {
	t.Helper()
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], 0xdeadbeef)
	binary.LittleEndian.PutUint32(buf[4:8], Size)
	copy(buf[8:12], []byte("BOOT"))
	buf[13] = byte(containerType)
	buf[14] = seq
	buf[15] = 0
	copy(buf[16:20], []byte(gameID))
	binary.LittleEndian.PutUint16(buf[20:22], 2026)
	buf[22] = 7
	buf[23] = 30
	buf[28] = 1  // release
	buf[29] = 2  // minor
	binary.LittleEndian.PutUint16(buf[30:32], 3) // major
	binary.LittleEndian.PutUint64(buf[32:40], blockCount)
	binary.LittleEndian.PutUint64(buf[40:48], blockSize)
	binary.LittleEndian.PutUint64(buf[48:56], headerBlockCount)
	copy(buf[64:67], []byte("WIN"))
	buf[67] = 10
	return buf
}

func TestDecodeOSContainer(t *testing.T) {
	buf := buildPlainBootID(t, ContainerOS, 0, "CHU", 100, 4096, 2)
	b, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ContainerOS, b.ContainerType)
	assert.Equal(t, "WIN", b.OSIDString())
	assert.Equal(t, uint64(98*4096), b.OutputSize())
	assert.Equal(t, "20260730000000", b.TargetTimestamp.String())
	assert.Equal(t, "3.02.01", b.TargetVersion.Version.String())
}

func TestDecodeOptionContainerUsesOptionString(t *testing.T) {
	buf := buildPlainBootID(t, ContainerOption, 1, "OPT1", 10, 4096, 1)
	copy(buf[28:32], []byte("ABC\x00"))
	b, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "ABC", b.TargetVersion.OptionString())
}

func TestDecodeUnknownContainerType(t *testing.T) {
	buf := buildPlainBootID(t, ContainerType(9), 0, "CHU", 10, 4096, 1)
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecryptAndDecodeRoundTrip(t *testing.T) {
	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i + 1)
		iv[i] = byte(255 - i)
	}

	plain := buildPlainBootID(t, ContainerApp, 3, "MAI2", 500, 4096, 4)

	// cryptoprim only exposes a decrypter; derive an encrypter here
	// directly against the standard library so ciphertext round-trips.
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	enc := cipher.NewCBCEncrypter(block, iv[:])
	cipherText := make([]byte, Size)
	enc.CryptBlocks(cipherText, plain)

	b, err := DecryptAndDecode(cipherText, key, iv)
	require.NoError(t, err)
	assert.Equal(t, ContainerApp, b.ContainerType)
	assert.Equal(t, "MAI2", b.GameIDString())
	assert.Equal(t, uint8(3), b.SequenceNumber)
}
