// Package fattable implements reading and writing FAT cluster entries
// across all three on-disk widths, cluster-chain traversal, and
// allocation/freeing with mirrored updates across every FAT copy.
package fattable

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/bpb"
	"github.com/ardenfel/vfat/errs"
)

// end-of-chain / bad-cluster markers per variant.
const (
	eoc12 = 0xFF8
	bad12 = 0xFF7
	eoc16 = 0xFFF8
	bad16 = 0xFFF7
	eoc32 = 0x0FFFFFF8
	bad32 = 0x0FFFFFF7
)

// Table is the mirrored set of on-disk FAT copies for one mounted volume.
type Table struct {
	device  *blockdev.Device
	variant bpb.Variant

	reservedSectors uint
	sectorsPerFAT   uint
	bytesPerSector  uint
	numFATs         uint
	totalClusters   uint

	// free tracks which clusters (indexed from 0; clusters 0 and 1 are
	// always marked used) are free, kept in lockstep with every Set/Free
	// call so allocate_one/allocate_chain's first-fit scan doesn't have to
	// re-read the FAT from disk each time. This is an index derived once at
	// mount, not a read cache: every write still goes straight to the
	// device.
	free               bitmap.Bitmap
	lastAllocatedHint  uint32
}

// Open constructs a Table over an already-mounted device, reading the
// primary FAT copy to seed the free-cluster bitmap.
func Open(device *blockdev.Device, bootSector *bpb.BootSector) (*Table, error) {
	t := &Table{
		device:          device,
		variant:         bootSector.Variant,
		reservedSectors: bootSector.ReservedSectors,
		sectorsPerFAT:   bootSector.SectorsPerFAT,
		bytesPerSector:  bootSector.BytesPerSector,
		numFATs:         bootSector.NumFATs,
		totalClusters:   bootSector.TotalClusters,
	}
	// Clusters are numbered from 2; total usable cluster count is
	// totalClusters, so clusters span [2, totalClusters+2).
	t.free = bitmap.New(int(t.totalClusters) + 2)
	for i := 0; i < 2; i++ {
		t.free.Set(i, true) // reserved clusters 0 and 1 are never "free"
	}
	for c := uint32(2); c < uint32(t.totalClusters)+2; c++ {
		v, err := t.readEntry(0, c)
		if err != nil {
			return nil, err
		}
		if v != 0 {
			t.free.Set(int(c), true)
		}
	}
	return t, nil
}

func (t *Table) fatOffset(copyIndex int) int64 {
	return int64(t.reservedSectors+uint(copyIndex)*t.sectorsPerFAT) * int64(t.bytesPerSector)
}

// entryByteWindow returns the byte offset (within one FAT copy) and number
// of bytes that must be read/written to access cluster's entry.
func (t *Table) entryByteWindow(cluster uint32) (offset int64, length int) {
	switch t.variant {
	case bpb.FAT12:
		return int64(cluster + cluster/2), 2
	case bpb.FAT16:
		return int64(cluster) * 2, 2
	default:
		return int64(cluster) * 4, 4
	}
}

func (t *Table) readEntry(copyIndex int, cluster uint32) (uint32, error) {
	base := t.fatOffset(copyIndex)
	off, length := t.entryByteWindow(cluster)
	raw, err := t.device.ReadAt(base+off, length)
	if err != nil {
		return 0, fmt.Errorf("%w: reading FAT entry for cluster %d: %s", errs.ErrIO, cluster, err)
	}

	switch t.variant {
	case bpb.FAT12:
		word := uint16(raw[0]) | uint16(raw[1])<<8
		if cluster%2 == 0 {
			return uint32(word & 0x0FFF), nil
		}
		return uint32(word >> 4), nil
	case bpb.FAT16:
		return uint32(raw[0]) | uint32(raw[1])<<8, nil
	default: // FAT32
		v := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		return v & 0x0FFFFFFF, nil
	}
}

func (t *Table) writeEntry(copyIndex int, cluster uint32, value uint32) error {
	base := t.fatOffset(copyIndex)
	off, length := t.entryByteWindow(cluster)

	switch t.variant {
	case bpb.FAT12:
		raw, err := t.device.ReadAt(base+off, 2)
		if err != nil {
			return fmt.Errorf("%w: reading FAT12 straddle byte: %s", errs.ErrIO, err)
		}
		word := uint16(raw[0]) | uint16(raw[1])<<8
		v12 := uint16(value) & 0x0FFF
		if cluster%2 == 0 {
			word = (word & 0xF000) | v12
		} else {
			word = (word & 0x000F) | (v12 << 4)
		}
		out := []byte{byte(word), byte(word >> 8)}
		return t.device.WriteAt(base+off, out)

	case bpb.FAT16:
		out := []byte{byte(value), byte(value >> 8)}
		return t.device.WriteAt(base+off, out)

	default: // FAT32: preserve the reserved high nibble on write.
		raw, err := t.device.ReadAt(base+off, 4)
		if err != nil {
			return fmt.Errorf("%w: reading FAT32 entry: %s", errs.ErrIO, err)
		}
		existing := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
		merged := (value & 0x0FFFFFFF) | (existing & 0xF0000000)
		out := []byte{
			byte(merged), byte(merged >> 8), byte(merged >> 16), byte(merged >> 24),
		}
		return t.device.WriteAt(base+off, out)
	}
}

// Get reads the FAT entry for cluster from the primary copy.
func (t *Table) Get(cluster uint32) (uint32, error) {
	return t.readEntry(0, cluster)
}

// Set writes value to cluster's entry in every FAT copy, preserving the
// reserved high nibble on FAT32 and the shared nibble on FAT12.
// It keeps the free-cluster bitmap in sync.
func (t *Table) Set(cluster uint32, value uint32) error {
	for i := uint(0); i < t.numFATs; i++ {
		if err := t.writeEntry(int(i), cluster, value); err != nil {
			return fmt.Errorf("%w: mirroring FAT copy %d for cluster %d: %s", errs.ErrIO, i, cluster, err)
		}
	}
	t.free.Set(int(cluster), value != 0)
	return nil
}

// IsEndOfChain reports whether value marks the end of a cluster chain for
// this variant.
func (t *Table) IsEndOfChain(value uint32) bool {
	switch t.variant {
	case bpb.FAT12:
		return value >= eoc12
	case bpb.FAT16:
		return value >= eoc16
	default:
		return value >= eoc32
	}
}

// IsBad reports whether value is the bad-cluster marker for this variant.
func (t *Table) IsBad(value uint32) bool {
	switch t.variant {
	case bpb.FAT12:
		return value == bad12
	case bpb.FAT16:
		return value == bad16
	default:
		return value == bad32
	}
}

func (t *Table) eocValue() uint32 {
	switch t.variant {
	case bpb.FAT12:
		return 0x0FFF
	case bpb.FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// FollowChain walks the cluster chain starting at first, stopping at an
// end-of-chain marker, a bad-cluster marker, or a free (0) entry. It detects
// cycles via a seen-set and fails with ErrChainCorrupt rather than looping
// forever.
func (t *Table) FollowChain(first uint32) ([]uint32, error) {
	if first < 2 {
		return nil, nil
	}

	var chain []uint32
	seen := make(map[uint32]bool)
	cur := first

	for {
		if seen[cur] {
			return chain, fmt.Errorf("%w: cluster %d revisited while following chain from %d",
				errs.ErrChainCorrupt, cur, first)
		}
		if cur >= uint32(t.totalClusters)+2 {
			return chain, fmt.Errorf("%w: cluster %d out of range (total clusters %d)",
				errs.ErrChainCorrupt, cur, t.totalClusters)
		}
		seen[cur] = true
		chain = append(chain, cur)

		if t.IsEndOfChain(cur) {
			// Shouldn't happen: cur is only ever a cluster we've already
			// validated as < EOC before appending, except for the very
			// first iteration.
			break
		}

		next, err := t.Get(cur)
		if err != nil {
			return chain, err
		}
		if t.IsEndOfChain(next) || next == 0 || t.IsBad(next) {
			break
		}
		cur = next
	}
	return chain, nil
}

// allocateOne scans for the first free cluster (first-fit from cluster 2
// upward), marks it end-of-chain, and returns it. The bitmap mirrors the
// on-disk free/used state exactly, so this produces the same result as a
// linear scan of the FAT itself, just without re-reading the device.
func (t *Table) allocateOne() (uint32, error) {
	for c := 2; c < int(t.totalClusters)+2; c++ {
		if !t.free.Get(c) {
			if err := t.Set(uint32(c), t.eocValue()); err != nil {
				return 0, err
			}
			return uint32(c), nil
		}
	}
	return 0, errs.ErrNoSpace
}

// AllocateOne is the exported form of allocateOne.
func (t *Table) AllocateOne() (uint32, error) { return t.allocateOne() }

// AllocateChain allocates n clusters, linking them in order and marking the
// last as end-of-chain. If allocation fails partway through, every cluster
// allocated so far is freed before NoSpace is returned.
func (t *Table) AllocateChain(n uint) (first uint32, err error) {
	if n == 0 {
		return 0, nil
	}

	clusters := make([]uint32, 0, n)
	rollback := func() {
		for _, c := range clusters {
			_ = t.Set(c, 0)
		}
	}

	for i := uint(0); i < n; i++ {
		c, err := t.allocateOne()
		if err != nil {
			rollback()
			return 0, errs.ErrNoSpace
		}
		clusters = append(clusters, c)
	}

	for i := 0; i < len(clusters)-1; i++ {
		if err := t.Set(clusters[i], clusters[i+1]); err != nil {
			rollback()
			return 0, err
		}
	}
	// Last cluster is already marked EOC by allocateOne.
	return clusters[0], nil
}

// FreeChain walks the chain starting at first, setting every entry to 0. A
// start value of 0, a bad marker, or an end-of-chain marker is a no-op.
func (t *Table) FreeChain(first uint32) error {
	if first == 0 || t.IsBad(first) || t.IsEndOfChain(first) {
		return nil
	}
	chain, err := t.FollowChain(first)
	if err != nil && len(chain) == 0 {
		return err
	}
	for _, c := range chain {
		if err := t.Set(c, 0); err != nil {
			return err
		}
	}
	return nil
}

// ExtendChain allocates n additional clusters and links them onto the end
// of the chain whose current last cluster is last. It returns the first
// cluster of the newly allocated extension.
func (t *Table) ExtendChain(last uint32, n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	firstNew, err := t.AllocateChain(n)
	if err != nil {
		return 0, err
	}
	if err := t.Set(last, firstNew); err != nil {
		return 0, err
	}
	return firstNew, nil
}

// TotalClusters returns the number of addressable data clusters [2, n+2).
func (t *Table) TotalClusters() uint { return t.totalClusters }

// Variant returns the FAT width this table operates in.
func (t *Table) Variant() bpb.Variant { return t.variant }
