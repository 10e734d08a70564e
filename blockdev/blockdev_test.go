package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/ardenfel/vfat/blockdev"
)

func newTestDevice(t *testing.T, sectorSize uint, totalSectors uint64) *blockdev.Device {
	t.Helper()
	raw := make([]byte, sectorSize*uint(totalSectors))
	return blockdev.New(bytesextra.NewReadWriteSeeker(raw), totalSectors, sectorSize, 0)
}

func TestReadWriteSectors_RoundTrip(t *testing.T) {
	d := newTestDevice(t, 512, 4)

	payload := make([]byte, 512*2)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, d.WriteSectors(1, payload))

	got, err := d.ReadSectors(1, 2)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Sectors outside the written range stay zeroed.
	untouched, err := d.ReadSectors(3, 1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 512), untouched)
}

func TestReadSectors_OutOfRange(t *testing.T) {
	d := newTestDevice(t, 512, 2)
	_, err := d.ReadSectors(2, 1)
	assert.Error(t, err)
}

func TestWriteSectors_NotWholeSectorCount(t *testing.T) {
	d := newTestDevice(t, 512, 2)
	err := d.WriteSectors(0, make([]byte, 100))
	assert.Error(t, err)
}

func TestReadAt_WriteAt_CrossSectorBoundary(t *testing.T) {
	d := newTestDevice(t, 512, 3)

	// A 4-byte window straddling the boundary between sector 0 and sector 1.
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	require.NoError(t, d.WriteAt(510, data))

	got, err := d.ReadAt(510, 4)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Confirm it actually landed split across the two sectors.
	sector0, err := d.ReadSectors(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), sector0[510])
	assert.Equal(t, byte(0xBB), sector0[511])

	sector1, err := d.ReadSectors(1, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xCC), sector1[0])
	assert.Equal(t, byte(0xDD), sector1[1])
}

func TestDetectTotalSectors(t *testing.T) {
	raw := make([]byte, 512*10)
	stream := bytesextra.NewReadWriteSeeker(raw)
	n, err := blockdev.DetectTotalSectors(stream, 512)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
}

func TestStartOffset(t *testing.T) {
	raw := make([]byte, 512*5)
	stream := bytesextra.NewReadWriteSeeker(raw)
	// Volume starts one sector into the underlying stream, as if it followed
	// a leading MBR sector.
	d := blockdev.New(stream, 4, 512, 512)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x42
	}
	require.NoError(t, d.WriteSectors(0, payload))

	// The write must have landed at byte offset 512 of the underlying
	// stream, not byte 0.
	assert.Equal(t, byte(0), raw[0])
	assert.Equal(t, byte(0x42), raw[512])
}

func TestClose_NonCloserStream(t *testing.T) {
	d := newTestDevice(t, 512, 1)
	assert.NoError(t, d.Close())
}
