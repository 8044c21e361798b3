package deploy

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPEFile(t *testing.T, timeDateStamp uint32) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.dll")

	buf := make([]byte, 0x40+24)
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:0x40], 0x40)

	pe := buf[0x40:]
	pe[0], pe[1], pe[2], pe[3] = 'P', 'E', 0, 0
	binary.LittleEndian.PutUint32(pe[8:12], timeDateStamp)

	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestPETimestampValid(t *testing.T) {
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := buildPEFile(t, uint32(want.Unix()))

	got, ok := peTimestamp(path)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestPETimestampRejectsNonPE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notpe.dll")
	require.NoError(t, os.WriteFile(path, []byte("not a pe file at all"), 0o644))

	_, ok := peTimestamp(path)
	assert.False(t, ok)
}

func TestPETimestampMissingFile(t *testing.T) {
	_, ok := peTimestamp(filepath.Join(t.TempDir(), "absent.dll"))
	assert.False(t, ok)
}
