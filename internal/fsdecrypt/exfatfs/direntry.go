package exfatfs

import (
	"encoding/binary"
	"time"
	"unicode/utf16"
)

const (
	entryTypeInUseMask     = 0x80
	entryTypeFile          = 0x85
	entryTypeStreamExt     = 0xC0
	entryTypeFileName      = 0xC1
	fileAttributeDirectory = 0x10

	secondaryFlagNoFatChain = 0x02
)

// dirEntrySet is one fully-assembled directory entry: a file directory
// entry plus its stream-extension and filename secondary entries.
type dirEntrySet struct {
	name             string
	isDirectory      bool
	firstCluster     uint32
	dataLength       uint64
	noFatChain       bool
	modifiedUnixNano int64
	accessedUnixNano int64
}

// parseDirEntrySets walks a raw directory cluster-chain buffer and
// assembles each in-use file directory entry set (0x85 + 0xC0 + 0xC1...).
func parseDirEntrySets(buf []byte) []dirEntrySet {
	var sets []dirEntrySet

	for i := 0; i+32 <= len(buf); i += 32 {
		entry := buf[i : i+32]
		entryType := entry[0]
		if entryType&entryTypeInUseMask == 0 {
			continue // unused/deleted entry
		}
		if entryType != entryTypeFile {
			continue // secondary entries are consumed inline below
		}

		secondaryCount := int(entry[1])
		fileAttrs := binary.LittleEndian.Uint16(entry[4:6])
		modified := parseExFATTimestamp(
			binary.LittleEndian.Uint32(entry[12:16]),
			entry[21], // LastModified10msIncrement
			entry[23], // LastModifiedUtcOffset
		)
		accessed := parseExFATTimestamp(
			binary.LittleEndian.Uint32(entry[16:20]),
			0,
			entry[24], // LastAccessedUtcOffset
		)

		set := dirEntrySet{
			isDirectory:      fileAttrs&fileAttributeDirectory != 0,
			modifiedUnixNano: modified.UnixNano(),
			accessedUnixNano: accessed.UnixNano(),
		}

		var nameRunes []uint16
		for s := 1; s <= secondaryCount && i+32*(s+1) <= len(buf); s++ {
			sec := buf[i+32*s : i+32*(s+1)]
			switch sec[0] {
			case entryTypeStreamExt:
				flags := sec[1]
				set.noFatChain = flags&secondaryFlagNoFatChain != 0
				set.dataLength = binary.LittleEndian.Uint64(sec[24:32])
				set.firstCluster = binary.LittleEndian.Uint32(sec[20:24])
			case entryTypeFileName:
				for u := 2; u < 32; u += 2 {
					unit := binary.LittleEndian.Uint16(sec[u : u+2])
					if unit == 0 {
						continue
					}
					nameRunes = append(nameRunes, unit)
				}
			}
		}

		set.name = string(utf16.Decode(nameRunes))
		if set.name != "" {
			sets = append(sets, set)
		}

		i += 32 * secondaryCount // outer loop's += 32 advances past the primary entry
	}

	return sets
}

// parseExFATTimestamp converts an exFAT packed {year,month,day,hour,min,
// doubleSeconds} timestamp plus a 10ms increment and a UTC-offset byte
// into a UTC time.Time. The offset byte's top bit marks it valid; the low
// 7 bits are a signed count of 15-minute increments from UTC.
func parseExFATTimestamp(packed uint32, tenMsIncrement, utcOffsetByte uint8) time.Time {
	year := int((packed>>25)&0x7F) + 1980
	month := int((packed >> 21) & 0x0F)
	day := int((packed >> 16) & 0x1F)
	hour := int((packed >> 11) & 0x1F)
	minute := int((packed >> 5) & 0x3F)
	second := int(packed&0x1F) * 2
	second += int(tenMsIncrement) / 100

	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}

	local := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)

	if utcOffsetByte&0x80 != 0 {
		raw := int8(utcOffsetByte << 1) >> 1 // sign-extend the low 7 bits
		offset := time.Duration(raw) * 15 * time.Minute
		return local.Add(-offset)
	}
	return local
}
