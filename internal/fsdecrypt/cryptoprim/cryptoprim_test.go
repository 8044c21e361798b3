package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageIVTweakSymmetry(t *testing.T) {
	fileIV := [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	offsets := []uint64{0, 1, 4096, 1 << 20, 1 << 40, 0xFFFFFFFFFFFFFFFF}

	for _, o := range offsets {
		pageIV := PageIV(o, fileIV)
		for i := 0; i < 16; i++ {
			shift := uint(8 * (i % 8))
			recovered := pageIV[i] ^ byte(o>>shift)
			assert.Equal(t, fileIV[i], recovered, "offset %d byte %d", o, i)
		}
	}
}

func TestPageIVZeroOffsetIsIdentity(t *testing.T) {
	fileIV := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	assert.Equal(t, fileIV, PageIV(0, fileIV))
}

func TestFileIVRoundTrip(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i*7 + 1)
	}
	header := NTFSHeader
	fileIV := [16]byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0, 11, 12, 13, 14, 15, 16}

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	iv0 := PageIV(0, fileIV)
	enc := cipher.NewCBCEncrypter(block, iv0[:])

	plain := header
	cipherText := make([]byte, 16)
	enc.CryptBlocks(cipherText, plain[:])

	recovered, err := FileIV(key, header, cipherText)
	require.NoError(t, err)
	assert.Equal(t, fileIV, recovered)
}

func TestFileIVTooShort(t *testing.T) {
	var key [16]byte
	_, err := FileIV(key, NTFSHeader, make([]byte, 8))
	assert.Error(t, err)
}

func TestDecryptPageRoundTrip(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	fileIV := [16]byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	const pageOffset = 4096 * 5

	plain := make([]byte, 4096)
	for i := range plain {
		plain[i] = byte(i)
	}

	pageIV := PageIV(pageOffset, fileIV)
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	enc := cipher.NewCBCEncrypter(block, pageIV[:])
	cipherText := make([]byte, len(plain))
	enc.CryptBlocks(cipherText, plain)

	err = DecryptPage(key, fileIV, pageOffset, cipherText)
	require.NoError(t, err)
	assert.Equal(t, plain, cipherText)
}

func TestDecryptPageRejectsUnalignedLength(t *testing.T) {
	var key, fileIV [16]byte
	err := DecryptPage(key, fileIV, 0, make([]byte, 10))
	assert.Error(t, err)
}
