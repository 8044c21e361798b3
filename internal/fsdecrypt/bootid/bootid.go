// Package bootid decrypts and decodes the fixed-size BootID record that
// begins every container, exposing its container kind, page geometry, and
// identifying metadata.
package bootid

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/cryptoprim"
)

// ContainerType identifies the kind of container a BootID describes.
type ContainerType uint8

const (
	ContainerOS     ContainerType = 0x00
	ContainerApp    ContainerType = 0x01
	ContainerOption ContainerType = 0x02
)

func (c ContainerType) String() string {
	switch c {
	case ContainerOS:
		return "OS"
	case ContainerApp:
		return "APP"
	case ContainerOption:
		return "OPTION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// Size is the on-disk (decrypted) byte size of a BootID record.
const Size = 96

// Timestamp is the packed {year,month,day,hour,minute,second,_} field used
// for both target_timestamp and source_timestamp.
type Timestamp struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// String renders the timestamp as YYYYMMDDhhmmss.
func (t Timestamp) String() string {
	return fmt.Sprintf("%04d%02d%02d%02d%02d%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// Version is the {release, minor, major} triple used for non-OPTION
// containers' target_version and for source_version/os_version.
type Version struct {
	Release uint8
	Minor   uint8
	Major   uint16
}

// String renders as "major.minor02.release02".
func (v Version) String() string {
	return fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Release)
}

// TargetVersion is the tagged union of GameVersion: a Version struct for
// OS/APP containers, or a 4-byte ASCII-NUL-padded option code for OPTION
// containers. Callers dispatch on BootID.ContainerType to pick a field.
type TargetVersion struct {
	Version Version
	Option  [4]byte
}

// OptionString trims trailing NULs from the option code bytes.
func (v TargetVersion) OptionString() string {
	return string(bytes.TrimRight(v.Option[:], "\x00"))
}

// BootID is the decoded plaintext form of a container's header record.
// Field order and sizes mirror the packed little-endian on-disk layout
// described for the decrypted header.
type BootID struct {
	CRC32           uint32
	Length          uint32
	Signature       [4]byte
	ContainerType   ContainerType
	SequenceNumber  uint8
	UseCustomIV     bool
	GameID          [4]byte
	TargetTimestamp Timestamp
	TargetVersion   TargetVersion
	BlockCount      uint64
	BlockSize       uint64
	HeaderBlockCount uint64
	OSID            [3]byte
	OSGeneration    uint8
	SourceTimestamp Timestamp
	SourceVersion   Version
	OSVersion       Version
}

// GameIDString trims trailing NULs from the game ID bytes.
func (b *BootID) GameIDString() string {
	return string(bytes.TrimRight(b.GameID[:], "\x00"))
}

// OSIDString trims trailing NULs from the OS ID bytes.
func (b *BootID) OSIDString() string {
	return string(bytes.TrimRight(b.OSID[:], "\x00"))
}

// OutputSize computes the plaintext payload size in bytes:
// (block_count - header_block_count) * block_size. Callers must reject a
// result that is zero or not a multiple of 4096.
func (b *BootID) OutputSize() uint64 {
	if b.BlockCount < b.HeaderBlockCount {
		return 0
	}
	return (b.BlockCount - b.HeaderBlockCount) * b.BlockSize
}

func readTimestamp(buf []byte) Timestamp {
	return Timestamp{
		Year:   binary.LittleEndian.Uint16(buf[0:2]),
		Month:  buf[2],
		Day:    buf[3],
		Hour:   buf[4],
		Minute: buf[5],
		Second: buf[6],
		// buf[7] is an unused padding byte.
	}
}

func readVersion(buf []byte) Version {
	return Version{
		Release: buf[0],
		Minor:   buf[1],
		Major:   binary.LittleEndian.Uint16(buf[2:4]),
	}
}

// Decode reads a decrypted BootID buffer of exactly Size bytes into its
// typed fields using explicit little-endian accessors — the record is a
// packed C layout and cannot safely be reinterpreted as a Go struct value.
func Decode(buf []byte) (*BootID, error) {
	if len(buf) < Size {
		return nil, ferrors.NewHeaderError("bootid", fmt.Errorf("buffer too short: %d bytes", len(buf)))
	}

	b := &BootID{}
	b.CRC32 = binary.LittleEndian.Uint32(buf[0:4])
	b.Length = binary.LittleEndian.Uint32(buf[4:8])
	copy(b.Signature[:], buf[8:12])
	// buf[12] is an unused byte (unk1).
	b.ContainerType = ContainerType(buf[13])
	b.SequenceNumber = buf[14]
	b.UseCustomIV = buf[15] != 0
	copy(b.GameID[:], buf[16:20])
	b.TargetTimestamp = readTimestamp(buf[20:28])

	switch b.ContainerType {
	case ContainerOption:
		copy(b.TargetVersion.Option[:], buf[28:32])
	default:
		b.TargetVersion.Version = readVersion(buf[28:32])
	}

	b.BlockCount = binary.LittleEndian.Uint64(buf[32:40])
	b.BlockSize = binary.LittleEndian.Uint64(buf[40:48])
	b.HeaderBlockCount = binary.LittleEndian.Uint64(buf[48:56])
	// buf[56:64] is an unused field (unk2).
	copy(b.OSID[:], buf[64:67])
	b.OSGeneration = buf[67]
	b.SourceTimestamp = readTimestamp(buf[68:76])
	b.SourceVersion = readVersion(buf[76:80])
	b.OSVersion = readVersion(buf[80:84])
	// buf[84:92] is 8 bytes of trailing padding.

	switch b.ContainerType {
	case ContainerOS, ContainerApp, ContainerOption:
	default:
		return b, fmt.Errorf("%w: %d", ferrors.ErrUnknownContainerType, uint8(b.ContainerType))
	}

	return b, nil
}

// DecryptAndDecode CBC-decrypts a Size-byte ciphertext buffer in place
// with the bootid key/IV pair and decodes the result.
func DecryptAndDecode(ciphertext []byte, bootidKey, bootidIV [16]byte) (*BootID, error) {
	if len(ciphertext) < Size {
		return nil, ferrors.NewHeaderError("bootid", fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext)))
	}

	block := ciphertext[:Size]
	// CBC decrypts in whole cipher.BlockSize units; Size (96) is a
	// multiple of aes.BlockSize (16).
	dec, err := cryptoprim.NewPageDecrypter(bootidKey, bootidIV)
	if err != nil {
		return nil, ferrors.NewCryptoError("bootid-decrypt", err)
	}
	dec.CryptBlocks(block, block)

	return Decode(block)
}
