package testutil

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/bytesextra"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/bpb"
	"github.com/ardenfel/vfat/fattable"
	"github.com/ardenfel/vfat/vfat"
)

// VolumeOptions describes the geometry of a synthetic volume to build.
// Fill it in by hand, or start from a NamedGeometry and override individual
// fields.
type VolumeOptions struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	NumFATs           uint
	RootEntryCount    uint // must be 0 for FAT32
	TotalDataClusters uint
	VolumeLabel       string
	OEMName           string
}

// FromGeometry seeds a VolumeOptions from a named reference geometry.
func FromGeometry(g Geometry) VolumeOptions {
	return VolumeOptions{
		BytesPerSector:    g.BytesPerSector,
		SectorsPerCluster: g.SectorsPerCluster,
		NumFATs:           g.NumFATs,
		RootEntryCount:    g.RootEntryCount,
		TotalDataClusters: g.TotalDataClusters,
		VolumeLabel:       g.Slug,
		OEMName:           "VFATTEST",
	}
}

// reservedSectorsFor returns the conventional reserved-region size: 1 for
// FAT12/16 (just the boot sector), 32 for FAT32 (boot sector, FSInfo, and
// backup boot sector, with room to spare).
func reservedSectorsFor(variant bpb.Variant) uint {
	if variant == bpb.FAT32 {
		return 32
	}
	return 1
}

// fatEntryBytes returns how many whole bytes it takes to hold count FAT
// entries at this variant's entry width, rounding FAT12's 12-bit entries up
// to a whole byte.
func fatEntryBytes(variant bpb.Variant, count uint) uint {
	switch variant {
	case bpb.FAT12:
		return (count*3 + 1) / 2
	case bpb.FAT16:
		return count * 2
	default:
		return count * 4
	}
}

// BuildVolume assembles a complete, internally consistent raw FAT12/16/32
// image from opts and wraps it as a blockdev.Device, ready for vfat.Mount.
// The image starts fully zeroed (every cluster free, root directory empty)
// except for the BPB and, on FAT32, the root directory's own cluster being
// marked allocated in the FAT.
//
// The image lives entirely in memory, backed by a bytesextra read-write
// seeker rather than a canned on-disk fixture. Its geometry is picked by
// running bpb.Parse/fattable.Open's derivation formulas in reverse, so the
// resulting BPB round-trips exactly.
func BuildVolume(opts VolumeOptions) (*blockdev.Device, error) {
	if opts.BytesPerSector == 0 {
		opts.BytesPerSector = 512
	}
	if opts.SectorsPerCluster == 0 {
		opts.SectorsPerCluster = 1
	}
	if opts.NumFATs == 0 {
		opts.NumFATs = 2
	}

	variant := bpb.DetermineVariant(opts.TotalDataClusters)
	if variant == bpb.FAT32 && opts.RootEntryCount != 0 {
		return nil, fmt.Errorf("testutil: root_entry_count must be 0 for FAT32, got %d", opts.RootEntryCount)
	}

	reservedSectors := reservedSectorsFor(variant)
	// +2 for the reserved entries of clusters 0 and 1, matching bpb.Parse's
	// [2, totalClusters+2) numbering.
	sectorsPerFAT := (fatEntryBytes(variant, opts.TotalDataClusters+2) + opts.BytesPerSector - 1) / opts.BytesPerSector
	if sectorsPerFAT == 0 {
		sectorsPerFAT = 1
	}
	rootDirSectors := (opts.RootEntryCount*32 + opts.BytesPerSector - 1) / opts.BytesPerSector

	totalSectors := reservedSectors + opts.NumFATs*sectorsPerFAT + rootDirSectors +
		opts.TotalDataClusters*opts.SectorsPerCluster

	raw := make([]byte, totalSectors*opts.BytesPerSector)
	encodeBootSector(raw, opts, variant, reservedSectors, sectorsPerFAT, rootDirSectors, totalSectors)

	device := blockdev.New(bytesextra.NewReadWriteSeeker(raw), uint64(totalSectors), opts.BytesPerSector, 0)

	bootSector, err := bpb.Parse(raw[:bpb.RawSize])
	if err != nil {
		return nil, fmt.Errorf("testutil: built an invalid boot sector: %w", err)
	}
	if bootSector.Variant != variant {
		return nil, fmt.Errorf(
			"testutil: geometry rounded to %s cluster count, expected %s (got %d data clusters)",
			bootSector.Variant, variant, bootSector.TotalClusters)
	}

	if variant == bpb.FAT32 {
		table, err := fattable.Open(device, bootSector)
		if err != nil {
			return nil, fmt.Errorf("testutil: opening FAT table to seed root cluster: %w", err)
		}
		rootCluster, err := table.AllocateOne()
		if err != nil {
			return nil, fmt.Errorf("testutil: allocating FAT32 root cluster: %w", err)
		}
		if rootCluster != bootSector.FAT32RootCluster {
			return nil, fmt.Errorf(
				"testutil: first free cluster %d does not match BPB root cluster %d",
				rootCluster, bootSector.FAT32RootCluster)
		}
	}

	return device, nil
}

// MountVolume builds a synthetic volume per opts and mounts it, for tests
// that don't need to inspect the raw device directly.
func MountVolume(opts VolumeOptions) (*vfat.Filesystem, error) {
	device, err := BuildVolume(opts)
	if err != nil {
		return nil, err
	}
	return vfat.Mount(device)
}

func encodeBootSector(
	raw []byte, opts VolumeOptions, variant bpb.Variant,
	reservedSectors, sectorsPerFAT, rootDirSectors, totalSectors uint,
) {
	oem := opts.OEMName
	if len(oem) > 8 {
		oem = oem[:8]
	}
	copy(raw[3:11], padTo(oem, 8))

	binary.LittleEndian.PutUint16(raw[11:13], uint16(opts.BytesPerSector))
	raw[13] = byte(opts.SectorsPerCluster)
	binary.LittleEndian.PutUint16(raw[14:16], uint16(reservedSectors))
	raw[16] = byte(opts.NumFATs)
	raw[21] = 0xF8 // media: fixed disk

	rootEntryCount := opts.RootEntryCount
	if variant == bpb.FAT32 {
		rootEntryCount = 0
	}
	binary.LittleEndian.PutUint16(raw[17:19], uint16(rootEntryCount))

	if totalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(raw[19:21], uint16(totalSectors))
	} else {
		binary.LittleEndian.PutUint32(raw[32:36], uint32(totalSectors))
	}

	if variant == bpb.FAT32 {
		binary.LittleEndian.PutUint32(raw[36:40], uint32(sectorsPerFAT))
		binary.LittleEndian.PutUint32(raw[44:48], 2) // conventional root cluster
		binary.LittleEndian.PutUint16(raw[48:50], 1) // conventional FSInfo sector
		binary.LittleEndian.PutUint32(raw[67:71], 0x56464154)
		copy(raw[71:82], padTo(opts.VolumeLabel, 11))
	} else {
		binary.LittleEndian.PutUint16(raw[22:24], uint16(sectorsPerFAT))
		binary.LittleEndian.PutUint32(raw[39:43], 0x56464154)
		copy(raw[43:54], padTo(opts.VolumeLabel, 11))
	}
}

func padTo(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}
