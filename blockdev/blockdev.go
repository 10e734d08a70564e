// Package blockdev implements random-access byte-addressable storage on top
// of an io.ReadWriteSeeker, addressed in fixed-size sectors. A single type
// covers both raw sector access and stream-style reads, since the engine
// only ever needs one kind of block-addressed device.
package blockdev

import (
	"fmt"
	"io"

	"github.com/ardenfel/vfat/errs"
)

// SectorID addresses a fixed-size sector from the start of the device.
type SectorID uint64

// Device is a byte-addressable block device: reads and writes must be done
// in whole sectors, optionally offset from the start of the underlying
// stream (to allow mounting a volume that starts partway through a larger
// image, e.g. past an MBR).
//
// Device is exclusively owned by whatever Filesystem mounts it; there is no
// internal locking, and concurrent use from multiple goroutines is the
// caller's responsibility.
type Device struct {
	SectorSize   uint
	TotalSectors uint64
	StartOffset  int64

	stream io.ReadWriteSeeker
}

// New wraps stream as a Device with sectorSize-byte sectors starting at
// startOffset bytes into the stream.
func New(stream io.ReadWriteSeeker, totalSectors uint64, sectorSize uint, startOffset int64) *Device {
	return &Device{
		SectorSize:   sectorSize,
		TotalSectors: totalSectors,
		StartOffset:  startOffset,
		stream:       stream,
	}
}

// DetectTotalSectors seeks to the end of stream and returns how many whole
// sectorSize-byte sectors it contains.
func DetectTotalSectors(stream io.Seeker, sectorSize uint) (uint64, error) {
	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seeking to end of device: %s", errs.ErrIO, err)
	}
	return uint64(end) / uint64(sectorSize), nil
}

func (d *Device) sectorOffset(sector SectorID) (int64, error) {
	if uint64(sector) >= d.TotalSectors {
		return 0, fmt.Errorf(
			"%w: sector %d not in [0, %d)", errs.ErrIO, sector, d.TotalSectors)
	}
	return d.StartOffset + int64(sector)*int64(d.SectorSize), nil
}

// checkBounds validates that [sector, sector+len(data)/SectorSize) lies
// within the device and that data is a whole number of sectors.
func (d *Device) checkBounds(sector SectorID, dataLen int) error {
	if dataLen%int(d.SectorSize) != 0 {
		return fmt.Errorf(
			"%w: length %d is not a multiple of the sector size %d",
			errs.ErrIO, dataLen, d.SectorSize)
	}
	sectorCount := uint64(dataLen) / uint64(d.SectorSize)
	if uint64(sector)+sectorCount > d.TotalSectors {
		return fmt.Errorf(
			"%w: sector %d plus %d sectors extends past end of device (%d sectors total)",
			errs.ErrIO, sector, sectorCount, d.TotalSectors)
	}
	return nil
}

// ReadSectors reads count whole sectors starting at sector.
func (d *Device) ReadSectors(sector SectorID, count uint) ([]byte, error) {
	if err := d.checkBounds(sector, int(count)*int(d.SectorSize)); err != nil {
		return nil, err
	}

	offset, err := d.sectorOffset(sector)
	if err != nil {
		return nil, err
	}
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking to sector %d: %s", errs.ErrIO, sector, err)
	}

	buf := make([]byte, uint(count)*d.SectorSize)
	n, err := io.ReadFull(d.stream, buf)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: short read at sector %d: got %d of %d bytes: %s",
			errs.ErrIO, sector, n, len(buf), err)
	}
	return buf, nil
}

// WriteSectors writes data, which must be a whole number of sectors, to the
// device starting at sector.
func (d *Device) WriteSectors(sector SectorID, data []byte) error {
	if err := d.checkBounds(sector, len(data)); err != nil {
		return err
	}

	offset, err := d.sectorOffset(sector)
	if err != nil {
		return err
	}
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to sector %d: %s", errs.ErrIO, sector, err)
	}

	if _, err := d.stream.Write(data); err != nil {
		return fmt.Errorf("%w: writing sector %d: %s", errs.ErrIO, sector, err)
	}
	return nil
}

// ReadAt reads length bytes starting at an arbitrary byte offset, spanning
// sector boundaries as needed. Used by the FAT table layer, which must read
// 2-byte/4-byte windows that don't align to a sector.
func (d *Device) ReadAt(byteOffset int64, length int) ([]byte, error) {
	firstSector := SectorID(uint64(byteOffset) / uint64(d.SectorSize))
	lastByte := byteOffset + int64(length) - 1
	lastSector := SectorID(uint64(lastByte) / uint64(d.SectorSize))
	sectorCount := uint(lastSector-firstSector) + 1

	buf, err := d.ReadSectors(firstSector, sectorCount)
	if err != nil {
		return nil, err
	}

	start := int(uint64(byteOffset) % uint64(d.SectorSize))
	return buf[start : start+length], nil
}

// WriteAt writes data at an arbitrary byte offset, spanning sector
// boundaries as needed via a read-modify-write of the affected sectors.
func (d *Device) WriteAt(byteOffset int64, data []byte) error {
	firstSector := SectorID(uint64(byteOffset) / uint64(d.SectorSize))
	lastByte := byteOffset + int64(len(data)) - 1
	lastSector := SectorID(uint64(lastByte) / uint64(d.SectorSize))
	sectorCount := uint(lastSector-firstSector) + 1

	buf, err := d.ReadSectors(firstSector, sectorCount)
	if err != nil {
		return err
	}

	start := int(uint64(byteOffset) % uint64(d.SectorSize))
	copy(buf[start:start+len(data)], data)
	return d.WriteSectors(firstSector, buf)
}

// Close releases the underlying OS handle if the stream supports it.
func (d *Device) Close() error {
	if closer, ok := d.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
