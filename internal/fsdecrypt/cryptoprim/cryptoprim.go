// Package cryptoprim implements the fixed AES-128-CBC page cipher used by
// every container kind: per-page IV tweaking from a file-level IV, and
// recovery of that file IV from a container's first ciphertext page given
// an expected plaintext header prefix.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
)

// NTFSHeader is the expected 16-byte plaintext prefix of an NTFS-formatted
// page 0.
var NTFSHeader = [16]byte{0xEB, 0x52, 0x90, 0x4E, 0x54, 0x46, 0x53, 0x20, 0x20, 0x20, 0x20, 0x00, 0x10, 0x01, 0x00, 0x00}

// ExFATHeader is the expected 16-byte plaintext prefix of an exFAT-formatted
// page 0.
var ExFATHeader = [16]byte{0xEB, 0x76, 0x90, 0x45, 0x58, 0x46, 0x41, 0x54, 0x20, 0x20, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00}

// PageIV derives the IV for the page starting at fileOffset (relative to
// the data region) from the file-level IV. The tweak XORs each IV byte
// with one byte of the offset, taken mod 8 — the top half of the IV
// mirrors the tweak applied to the low half.
func PageIV(fileOffset uint64, fileIV [16]byte) [16]byte {
	var pageIV [16]byte
	for i := 0; i < 16; i++ {
		shift := uint(8 * (i % 8))
		pageIV[i] = fileIV[i] ^ byte(fileOffset>>shift)
	}
	return pageIV
}

// FileIV recovers the file-level IV from a container's first ciphertext
// page: page 0's IV tweak is the identity (offset 0), so CBC-decrypting
// the first ciphertext block with IV=expectedHeader yields
// Dec(C0) XOR expectedHeader, which is exactly the file IV that would
// make page 0 decrypt to expectedHeader. firstPageCipher must supply at
// least 16 bytes; only the first block is consumed.
func FileIV(key [16]byte, expectedHeader [16]byte, firstPageCipher []byte) ([16]byte, error) {
	var fileIV [16]byte
	if len(firstPageCipher) < aes.BlockSize {
		return fileIV, ferrors.NewCryptoError("file-iv-recover", ferrors.ErrCryptoFailure)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fileIV, ferrors.NewCryptoError("file-iv-recover", err)
	}

	iv0 := PageIV(0, expectedHeader)
	dec := cipher.NewCBCDecrypter(block, iv0[:])

	var header [16]byte
	copy(header[:], firstPageCipher[:aes.BlockSize])
	dec.CryptBlocks(header[:], header[:])

	return header, nil
}

// NewPageDecrypter builds a CBC decrypter for key and pageIV. Go's
// cipher.BlockMode holds chaining state internally, so a new decrypter is
// built for every page (and for the BootID record) — this helper exists to
// keep that construction (and its error wrapping) in one place.
func NewPageDecrypter(key [16]byte, pageIV [16]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ferrors.NewCryptoError("page-decrypt", err)
	}
	return cipher.NewCBCDecrypter(block, pageIV[:]), nil
}

// DecryptPage decrypts one page in place using key and the IV derived for
// pageOffset (relative to the data region) from fileIV. page must be a
// multiple of aes.BlockSize in length (4096 in practice).
func DecryptPage(key [16]byte, fileIV [16]byte, pageOffset uint64, page []byte) error {
	if len(page)%aes.BlockSize != 0 {
		return ferrors.NewCryptoError("page-decrypt", ferrors.ErrCryptoFailure)
	}
	pageIV := PageIV(pageOffset, fileIV)
	dec, err := NewPageDecrypter(key, pageIV)
	if err != nil {
		return err
	}
	dec.CryptBlocks(page, page)
	return nil
}
