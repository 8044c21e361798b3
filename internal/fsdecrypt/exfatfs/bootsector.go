package exfatfs

import (
	"encoding/binary"
	"fmt"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
)

// bootSector holds the geometry fields of an exFAT boot sector needed to
// locate the FAT, the cluster heap, and the root directory.
type bootSector struct {
	fatOffsetSectors    uint32
	fatLengthSectors    uint32
	clusterHeapOffset   uint32 // sectors
	clusterCount        uint32
	rootDirCluster      uint32
	bytesPerSectorShift uint8
	sectorsPerClusterShift uint8
}

func (b bootSector) bytesPerSector() int64   { return int64(1) << b.bytesPerSectorShift }
func (b bootSector) sectorsPerCluster() int64 { return int64(1) << b.sectorsPerClusterShift }
func (b bootSector) bytesPerCluster() int64  { return b.bytesPerSector() * b.sectorsPerCluster() }

func (b bootSector) clusterHeapByteOffset() int64 {
	return int64(b.clusterHeapOffset) * b.bytesPerSector()
}

func (b bootSector) fatByteOffset() int64 {
	return int64(b.fatOffsetSectors) * b.bytesPerSector()
}

// clusterOffset returns the byte offset of cluster (cluster numbers start
// at 2, matching the FAT/exFAT convention).
func (b bootSector) clusterOffset(cluster uint32) int64 {
	return b.clusterHeapByteOffset() + int64(cluster-2)*b.bytesPerCluster()
}

func parseBootSector(sector []byte) (bootSector, error) {
	if len(sector) < 120 {
		return bootSector{}, ferrors.NewHeaderError("exfat-boot-sector", fmt.Errorf("sector too short: %d bytes", len(sector)))
	}
	if string(sector[3:11]) != "EXFAT   " {
		return bootSector{}, ferrors.NewHeaderError("exfat-boot-sector", fmt.Errorf("not an exFAT volume"))
	}

	return bootSector{
		fatOffsetSectors:       binary.LittleEndian.Uint32(sector[80:84]),
		fatLengthSectors:       binary.LittleEndian.Uint32(sector[84:88]),
		clusterHeapOffset:      binary.LittleEndian.Uint32(sector[88:92]),
		clusterCount:           binary.LittleEndian.Uint32(sector[92:96]),
		rootDirCluster:         binary.LittleEndian.Uint32(sector[96:100]),
		bytesPerSectorShift:    sector[108],
		sectorsPerClusterShift: sector[109],
	}, nil
}

const (
	fatEntryEOF   = 0xFFFFFFFF
	fatEntryBad   = 0xFFFFFFF7
	firstDataCluster = 2
)
