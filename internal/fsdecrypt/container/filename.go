package container

import (
	"fmt"
	"path/filepath"

	"github.com/ruminasu/fsdecrypt/internal/fsdecrypt/bootid"
)

// outputPath joins outputFilename's result with input's directory, so the
// intermediate decrypted file lands next to its source container.
func outputPath(input string, h *bootid.BootID) string {
	return filepath.Join(filepath.Dir(input), outputFilename(h))
}

// outputFilename builds the intermediate output filename (no directory
// component) for a decoded BootID, encoding kind, IDs, version, target
// timestamp, and sequence number.
func outputFilename(h *bootid.BootID) string {
	switch h.ContainerType {
	case bootid.ContainerOS:
		return fmt.Sprintf("%s_%s_%s_%d.ntfs", h.OSIDString(), h.OSVersion, h.TargetTimestamp, h.SequenceNumber)

	case bootid.ContainerApp:
		if h.SequenceNumber == 0 {
			return fmt.Sprintf("%s_%s_%s_%d.ntfs", h.GameIDString(), h.TargetVersion.Version, h.TargetTimestamp, h.SequenceNumber)
		}
		return fmt.Sprintf("%s_%s_%s_%d_%s.ntfs", h.GameIDString(), h.TargetVersion.Version, h.TargetTimestamp, h.SequenceNumber, h.SourceVersion)

	case bootid.ContainerOption:
		return fmt.Sprintf("%s_%s_%s_%d.exfat", h.GameIDString(), h.TargetVersion.OptionString(), h.TargetTimestamp, h.SequenceNumber)

	default:
		return fmt.Sprintf("unknown_%d.bin", h.SequenceNumber)
	}
}
