// Package bpb parses and validates the FAT BIOS Parameter Block and derives
// volume geometry from it, following the Microsoft-canonical total_clusters
// formula: data_sectors excludes the root directory region on FAT12/16, not
// just reserved+FAT sectors.
package bpb

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ardenfel/vfat/errs"
)

// Variant identifies which of the three FAT flavors a volume uses.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

func (v Variant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return fmt.Sprintf("FAT(unknown:%d)", int(v))
	}
}

// Size of the raw BPB region read off disk (boot sector + FAT32 extension,
// where present).
const RawSize = 90

// BootSector holds both the raw BPB fields and the geometry derived from
// them at mount time. It is immutable after construction.
type BootSector struct {
	OEMName           string
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	RootEntryCount    uint
	TotalSectors      uint
	SectorsPerFAT     uint
	Media             uint8
	VolumeSerial      uint32
	VolumeLabel       string

	// FAT32-only fields; zero otherwise.
	FAT32RootCluster uint32
	FAT32FSInfoSector uint

	// Derived geometry.
	Variant             Variant
	RootDirSectors      uint
	FirstDataSector     uint
	RootDirFirstSector  uint
	TotalDataSectors    uint
	TotalClusters       uint
	BytesPerCluster     uint
	DirentsPerCluster   uint
}

// RecommendedSectorsPerCluster mirrors Microsoft's canonical formatter
// table. It's exported only for the external formatter collaborator; the
// engine itself tolerates any valid (power-of-two, <=32MiB cluster)
// combination a volume was actually formatted with.
func RecommendedSectorsPerCluster(volumeBytes uint64, variant Variant, bytesPerSector uint) uint {
	mb := volumeBytes / (1024 * 1024)
	switch variant {
	case FAT16:
		switch {
		case mb <= 32:
			return 512 / bytesPerSector * 1
		case mb <= 64:
			return 1
		case mb <= 128:
			return 2
		case mb <= 256:
			return 4
		case mb <= 512:
			return 8
		case mb <= 1024:
			return 16
		case mb <= 2048:
			return 32
		case mb <= 4096:
			return 64
		default:
			return 64
		}
	case FAT32:
		switch {
		case mb <= 260:
			return 1
		case mb <= 8192:
			return 8
		case mb <= 16384:
			return 16
		case mb <= 32768:
			return 32
		default:
			return 64
		}
	default: // FAT12
		return 1
	}
}

var validBytesPerSector = map[uint]bool{512: true, 1024: true, 2048: true, 4096: true}

func isPowerOfTwoInRange(n uint, lo, hi uint) bool {
	if n < lo || n > hi {
		return false
	}
	return n&(n-1) == 0
}

// DetermineVariant classifies a volume purely from its total cluster count,
// the only rule Microsoft's own FAT spec endorses.
func DetermineVariant(totalClusters uint) Variant {
	if totalClusters < 4085 {
		return FAT12
	}
	if totalClusters < 65525 {
		return FAT16
	}
	return FAT32
}

// Parse reads and validates the first RawSize bytes of a volume (already
// fetched by the caller, typically via blockdev.Device.ReadSectors) and
// derives its geometry.
func Parse(raw []byte) (*BootSector, error) {
	if len(raw) < RawSize {
		return nil, fmt.Errorf("%w: boot sector region is %d bytes, need at least %d",
			errs.ErrInvalidBootSector, len(raw), RawSize)
	}

	bs := &BootSector{}
	bs.OEMName = trimPadded(raw[3:11])
	bs.BytesPerSector = uint(binary.LittleEndian.Uint16(raw[11:13]))
	bs.SectorsPerCluster = uint(raw[13])
	bs.ReservedSectors = uint(binary.LittleEndian.Uint16(raw[14:16]))
	bs.NumFATs = uint(raw[16])
	bs.RootEntryCount = uint(binary.LittleEndian.Uint16(raw[17:19]))

	totalSectors16 := uint(binary.LittleEndian.Uint16(raw[19:21]))
	bs.Media = raw[21]
	sectorsPerFAT16 := uint(binary.LittleEndian.Uint16(raw[22:24]))
	totalSectors32 := uint(binary.LittleEndian.Uint32(raw[32:36]))

	if totalSectors16 != 0 {
		bs.TotalSectors = totalSectors16
	} else {
		bs.TotalSectors = totalSectors32
	}

	var merr *multierror.Error

	if !validBytesPerSector[bs.BytesPerSector] {
		merr = multierror.Append(merr, fmt.Errorf(
			"%w: bytes_per_sector: must be 512, 1024, 2048, or 4096, got %d",
			errs.ErrInvalidBootSector, bs.BytesPerSector))
	}
	if !isPowerOfTwoInRange(bs.SectorsPerCluster, 1, 128) {
		merr = multierror.Append(merr, fmt.Errorf(
			"%w: sectors_per_cluster: must be a power of two in [1,128], got %d",
			errs.ErrInvalidBootSector, bs.SectorsPerCluster))
	}
	if bs.NumFATs != 1 && bs.NumFATs != 2 {
		merr = multierror.Append(merr, fmt.Errorf(
			"%w: num_fats: must be 1 or 2, got %d", errs.ErrInvalidBootSector, bs.NumFATs))
	}
	if bs.ReservedSectors < 1 {
		merr = multierror.Append(merr, fmt.Errorf(
			"%w: reserved_sector_count must be >= 1, got %d",
			errs.ErrInvalidBootSector, bs.ReservedSectors))
	}
	if merr.ErrorOrNil() != nil {
		return nil, merr
	}

	bs.BytesPerCluster = bs.BytesPerSector * bs.SectorsPerCluster
	if bs.BytesPerCluster > 32*1024*1024 {
		return nil, fmt.Errorf("%w: cluster_size %d exceeds 32 MiB",
			errs.ErrInvalidBootSector, bs.BytesPerCluster)
	}

	bs.RootDirSectors = ((bs.RootEntryCount * 32) + (bs.BytesPerSector - 1)) / bs.BytesPerSector

	sectorsPerFAT32 := uint(binary.LittleEndian.Uint32(raw[36:40]))
	if sectorsPerFAT16 != 0 {
		bs.SectorsPerFAT = sectorsPerFAT16
	} else {
		bs.SectorsPerFAT = sectorsPerFAT32
	}

	totalFATSectors := bs.NumFATs * bs.SectorsPerFAT
	dataSectors := bs.TotalSectors - (bs.ReservedSectors + totalFATSectors + bs.RootDirSectors)
	bs.TotalDataSectors = dataSectors
	bs.TotalClusters = dataSectors / bs.SectorsPerCluster
	bs.Variant = DetermineVariant(bs.TotalClusters)

	bs.RootDirFirstSector = bs.ReservedSectors + totalFATSectors
	bs.FirstDataSector = bs.RootDirFirstSector + bs.RootDirSectors
	bs.DirentsPerCluster = bs.BytesPerCluster / 32

	if bs.Variant == FAT32 {
		if len(raw) < RawSize {
			return nil, fmt.Errorf("%w: FAT32 extension fields missing", errs.ErrInvalidBootSector)
		}
		bs.FAT32RootCluster = binary.LittleEndian.Uint32(raw[44:48])
		bs.FAT32FSInfoSector = uint(binary.LittleEndian.Uint16(raw[48:50]))
		bs.VolumeSerial = binary.LittleEndian.Uint32(raw[67:71])
		bs.VolumeLabel = trimPadded(raw[71:82])
		if bs.RootEntryCount != 0 {
			return nil, fmt.Errorf(
				"%w: root_entry_count must be 0 for FAT32, got %d",
				errs.ErrInvalidBootSector, bs.RootEntryCount)
		}
	} else {
		bs.VolumeSerial = binary.LittleEndian.Uint32(raw[39:43])
		bs.VolumeLabel = trimPadded(raw[43:54])
	}

	return bs, nil
}

func trimPadded(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}

// ClusterToSector converts a cluster number (>= 2) to the first sector of
// its data region.
func (bs *BootSector) ClusterToSector(cluster uint32) uint {
	return bs.FirstDataSector + (uint(cluster)-2)*bs.SectorsPerCluster
}

// FSInfo is the advisory FAT32 FSInfo sector (usually sector 1): a
// last-known free cluster count and next-free-cluster hint. It is never
// trusted for allocation correctness (the allocator always scans from
// cluster 2) but is surfaced for the fragmentation analyzer's sanity
// cross-check.
type FSInfo struct {
	FreeClusterCount  uint32 // 0xFFFFFFFF if unknown
	NextFreeCluster   uint32 // 0xFFFFFFFF if unknown
}

const (
	fsInfoLeadSig    = 0x41615252
	fsInfoStructSig  = 0x61417272
	fsInfoTrailSig   = 0xAA550000
)

// ParseFSInfo parses a 512-byte FSInfo sector. It returns (nil, nil) if the
// sector's signatures don't match, since FSInfo is optional/advisory.
func ParseFSInfo(raw []byte) (*FSInfo, error) {
	if len(raw) < 512 {
		return nil, fmt.Errorf("%w: FSInfo sector is %d bytes, need 512",
			errs.ErrInvalidBootSector, len(raw))
	}
	lead := binary.LittleEndian.Uint32(raw[0:4])
	structSig := binary.LittleEndian.Uint32(raw[484:488])
	trail := binary.LittleEndian.Uint32(raw[508:512])
	if lead != fsInfoLeadSig || structSig != fsInfoStructSig || trail != fsInfoTrailSig {
		return nil, nil
	}
	return &FSInfo{
		FreeClusterCount: binary.LittleEndian.Uint32(raw[488:492]),
		NextFreeCluster:  binary.LittleEndian.Uint32(raw[492:496]),
	}, nil
}
