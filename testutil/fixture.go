package testutil

import (
	"bytes"
	"fmt"

	"github.com/xaionaro-go/bytesextra"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/utilities/compression"
)

// CompressFixture reads every sector off device and RLE8+gzip-compresses it,
// for checking a small canonical volume into the repo as a compact fixture
// instead of a raw multi-hundred-kilobyte image. A fixture produced this way
// can be replayed by LoadCompressedFixture without re-deriving a geometry
// every time a test runs.
func CompressFixture(device *blockdev.Device) ([]byte, error) {
	raw, err := device.ReadSectors(0, uint(device.TotalSectors))
	if err != nil {
		return nil, fmt.Errorf("testutil: reading device to compress fixture: %w", err)
	}
	var out bytes.Buffer
	if _, err := compression.CompressImage(bytes.NewReader(raw), &out); err != nil {
		return nil, fmt.Errorf("testutil: compressing fixture: %w", err)
	}
	return out.Bytes(), nil
}

// LoadCompressedFixture decompresses a fixture produced by CompressFixture
// and wraps it as a blockdev.Device.
func LoadCompressedFixture(compressedImage []byte, bytesPerSector uint, totalSectors uint) (*blockdev.Device, error) {
	raw, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImage))
	if err != nil {
		return nil, fmt.Errorf("testutil: decompressing fixture: %w", err)
	}
	want := bytesPerSector * totalSectors
	if uint(len(raw)) != want {
		return nil, fmt.Errorf(
			"testutil: decompressed fixture is %d bytes, expected %d (%d sectors of %d bytes)",
			len(raw), want, totalSectors, bytesPerSector)
	}
	return blockdev.New(bytesextra.NewReadWriteSeeker(raw), uint64(totalSectors), bytesPerSector, 0), nil
}
