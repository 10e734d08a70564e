package vfat

import (
	"errors"
	"strings"
	"time"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/dirent"
	"github.com/ardenfel/vfat/errs"
)

// Directory is a handle onto one directory's contents: either the FAT12/16
// root's fixed region, or a cluster chain (FAT32 root or any subdirectory).
type Directory struct {
	fs *Filesystem

	isRoot bool

	isFixedRoot          bool
	fixedRootSector      uint
	fixedRootSectorCount uint

	firstCluster uint32
}

// readRegion returns the directory's full raw byte region: the fixed root
// region for FAT12/16, or the concatenation of its cluster chain otherwise
//.
func (d *Directory) readRegion() ([]byte, error) {
	if d.isFixedRoot {
		return d.fs.device.ReadSectors(
			blockdev.SectorID(d.fixedRootSector), d.fixedRootSectorCount)
	}
	return d.fs.clusterChainBytes(d.firstCluster)
}

func (d *Directory) writeRegion(data []byte) error {
	if d.isFixedRoot {
		return d.fs.device.WriteSectors(blockdev.SectorID(d.fixedRootSector), data)
	}
	return d.fs.writeClusterChainBytes(d.firstCluster, data)
}

// expand grows the directory by one cluster to make room for more entries.
// The FAT12/16 root cannot be expanded.
func (d *Directory) expand() error {
	if d.isFixedRoot {
		return errs.ErrDirectoryFull
	}
	chain, err := d.fs.fatTable.FollowChain(d.firstCluster)
	if err != nil {
		return err
	}
	last := d.firstCluster
	if len(chain) > 0 {
		last = chain[len(chain)-1]
	}
	newCluster, err := d.fs.fatTable.ExtendChain(last, 1)
	if err != nil {
		return err
	}
	zero := make([]byte, d.fs.bootSector.BytesPerCluster)
	return d.fs.writeCluster(newCluster, zero)
}

// findFreeSlots returns the directory's raw data and the byte offset of k
// consecutive free slots, expanding the directory as many times as needed.
func (d *Directory) findFreeSlots(k int) ([]byte, int, error) {
	for {
		data, err := d.readRegion()
		if err != nil {
			return nil, 0, err
		}
		if offset := dirent.FindConsecutiveFree(data, k); offset >= 0 {
			return data, offset, nil
		}
		if err := d.expand(); err != nil {
			return nil, 0, err
		}
	}
}

// List returns every live record in the directory, including "." and ".."
// for subdirectories.
func (d *Directory) List() ([]dirent.Entry, error) {
	data, err := d.readRegion()
	if err != nil {
		return nil, errs.Op("list", "directory", err)
	}
	return dirent.ParseDirectory(data), nil
}

// Get looks up name case-insensitively against both the reconstructed long
// name (when present) and the short name.
func (d *Directory) Get(name string) (*dirent.Entry, error) {
	entries, err := d.List()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		if strings.EqualFold(e.DisplayName, name) || strings.EqualFold(e.ShortName, name) {
			return e, nil
		}
	}
	return nil, errs.Op("get", name, errs.ErrNotFound)
}

func validateName(name string) error {
	if name == "" || len(name) > 255 {
		return errs.ErrNameInvalid
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return errs.ErrNameInvalid
		}
	}
	return nil
}

// existingShortNames collects the short names already present in this
// directory, for GenerateShortName's uniqueness scan.
func (d *Directory) existingShortNames() (map[string]bool, error) {
	entries, err := d.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[strings.ToUpper(e.ShortName)] = true
	}
	return out, nil
}

// create is the shared implementation behind CreateFile and
// CreateDirectory.
func (d *Directory) create(name string, isDir bool) (*dirent.Entry, error) {
	existing, err := d.Get(name)
	if err == nil {
		if existing.IsDir() == isDir {
			return existing, nil
		}
		return nil, errs.Op("create", name, errs.ErrExists)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	if err := validateName(name); err != nil {
		return nil, errs.Op("create", name, err)
	}

	existingShort, err := d.existingShortNames()
	if err != nil {
		return nil, err
	}

	now := time.Now()

	var attr uint8
	var firstCluster uint32
	if isDir {
		attr = dirent.AttrDirectory
		firstCluster, err = d.fs.fatTable.AllocateOne()
		if err != nil {
			return nil, errs.Op("create", name, err)
		}
	}

	built, err := dirent.BuildEntry(name, attr, firstCluster, 0, now, now, now, existingShort)
	if err != nil {
		if isDir {
			_ = d.fs.fatTable.FreeChain(firstCluster)
		}
		return nil, errs.Op("create", name, err)
	}

	data, offset, err := d.findFreeSlots(len(built.Slots))
	if err != nil {
		if isDir {
			_ = d.fs.fatTable.FreeChain(firstCluster)
		}
		return nil, errs.Op("create", name, err)
	}

	if isDir {
		dotDotCluster := uint32(0)
		if !d.isRoot {
			dotDotCluster = d.firstCluster
		}
		content := make([]byte, d.fs.bootSector.BytesPerCluster)
		dot := dirent.DotEntryBytes(firstCluster, now)
		dotdot := dirent.DotDotEntryBytes(dotDotCluster, now)
		copy(content[0:dirent.EntrySize], dot[:])
		copy(content[dirent.EntrySize:2*dirent.EntrySize], dotdot[:])
		if err := d.fs.writeCluster(firstCluster, content); err != nil {
			return nil, errs.Op("create", name, err)
		}
	}

	dirent.WriteSlots(data, offset, built.Slots)
	if err := d.writeRegion(data); err != nil {
		return nil, errs.Op("create", name, err)
	}

	numLFN := len(built.Slots) - 1
	entry := &dirent.Entry{
		DisplayName:  name,
		ShortName:    built.ShortName,
		Attr:         attr,
		FirstCluster: firstCluster,
		Size:         0,
		Created:      now,
		LastModified: now,
		LastAccessed: now,
		SlotOffset:   offset + numLFN*dirent.EntrySize,
		LFNSlotCount: numLFN,
	}
	return entry, nil
}

// CreateFile creates an empty file named name in this directory. If an entry of that name already exists as a file, the
// existing entry is returned.
func (d *Directory) CreateFile(name string) (*File, error) {
	e, err := d.create(name, false)
	if err != nil {
		return nil, err
	}
	return &File{fs: d.fs, parent: d, entry: *e}, nil
}

// OpenSubdirectory wraps an already-resolved directory entry (from this
// directory's own List/Get) as a Directory handle on its contents.
func (d *Directory) OpenSubdirectory(e *dirent.Entry) *Directory {
	return &Directory{fs: d.fs, firstCluster: e.FirstCluster}
}

// CreateDirectory creates a subdirectory named name, pre-populated with "."
// and "..".
func (d *Directory) CreateDirectory(name string) (*Directory, error) {
	e, err := d.create(name, true)
	if err != nil {
		return nil, err
	}
	return &Directory{fs: d.fs, firstCluster: e.FirstCluster}, nil
}

// Delete removes the entry named name: marks its directory slots deleted
// and frees its cluster chain. Deleting a non-empty subdirectory fails with
// ErrDirectoryNotEmpty; deleting "." or ".." (or the root itself) fails
// with ErrCannotDeleteRoot.
func (d *Directory) Delete(name string) error {
	if name == "." || name == ".." {
		return errs.Op("delete", name, errs.ErrCannotDeleteRoot)
	}

	e, err := d.Get(name)
	if err != nil {
		return err
	}

	if e.IsDir() {
		sub := &Directory{fs: d.fs, firstCluster: e.FirstCluster}
		entries, err := sub.List()
		if err != nil {
			return err
		}
		for _, child := range entries {
			if child.DisplayName != "." && child.DisplayName != ".." {
				return errs.Op("delete", name, errs.ErrDirectoryNotEmpty)
			}
		}
	}

	data, err := d.readRegion()
	if err != nil {
		return errs.Op("delete", name, err)
	}
	dirent.MarkDeleted(data, e.SlotOffset, e.LFNSlotCount)
	if err := d.writeRegion(data); err != nil {
		return errs.Op("delete", name, err)
	}

	if e.FirstCluster != 0 {
		if err := d.fs.fatTable.FreeChain(e.FirstCluster); err != nil {
			return errs.Op("delete", name, err)
		}
	}
	return nil
}

// persistSlot rewrites an existing entry's mutable fields (used by File
// after a content mutation) and writes the directory region back.
func (d *Directory) persistSlot(e *dirent.Entry) error {
	data, err := d.readRegion()
	if err != nil {
		return err
	}
	dirent.UpdateEntrySlot(
		data[e.SlotOffset:e.SlotOffset+dirent.EntrySize],
		e.Attr, e.FirstCluster, e.Size, e.LastModified, e.LastAccessed)
	return d.writeRegion(data)
}
