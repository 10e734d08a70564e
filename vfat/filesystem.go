// Package vfat implements the Filesystem facade and path resolution, and
// the File/Directory lifecycle operations that project onto the lower
// FAT/directory layers. There is no write-back block cache: every write
// goes straight through to the device.
package vfat

import (
	"errors"
	"strings"

	"github.com/ardenfel/vfat/blockdev"
	"github.com/ardenfel/vfat/bpb"
	"github.com/ardenfel/vfat/dirent"
	"github.com/ardenfel/vfat/errs"
	"github.com/ardenfel/vfat/fattable"
)

// Filesystem is a single mounted FAT volume. It owns its device exclusively
// for the duration of the mount.
type Filesystem struct {
	device     *blockdev.Device
	bootSector *bpb.BootSector
	fatTable   *fattable.Table
	fsInfo     *bpb.FSInfo
}

// Mount constructs the Boot Sector, then the FAT Table atop it, over an
// already-open device.
func Mount(device *blockdev.Device) (*Filesystem, error) {
	raw, err := device.ReadSectors(0, 1)
	if err != nil {
		return nil, errs.Op("mount", "boot sector", err)
	}
	// bpb.RawSize may exceed one sector's worth for small sector sizes is
	// never true in practice (512 is the minimum), but guard anyway.
	if uint(len(raw)) < bpb.RawSize {
		extra, err := device.ReadSectors(1, 1)
		if err != nil {
			return nil, errs.Op("mount", "boot sector extension", err)
		}
		raw = append(raw, extra...)
	}

	bootSector, err := bpb.Parse(raw)
	if err != nil {
		return nil, errs.Op("mount", "boot sector", err)
	}

	fatTable, err := fattable.Open(device, bootSector)
	if err != nil {
		return nil, errs.Op("mount", "FAT table", err)
	}

	fs := &Filesystem{device: device, bootSector: bootSector, fatTable: fatTable}

	if bootSector.Variant == bpb.FAT32 && bootSector.FAT32FSInfoSector != 0 {
		fsInfoRaw, err := device.ReadSectors(blockdev.SectorID(bootSector.FAT32FSInfoSector), 1)
		if err == nil {
			// FSInfo is advisory only; a parse failure here is not fatal to
			// the mount.
			fs.fsInfo, _ = bpb.ParseFSInfo(fsInfoRaw)
		}
	}

	return fs, nil
}

// Close releases the underlying device. There is no journaled flush to
// perform: every write already went through the device.
func (fs *Filesystem) Close() error {
	return fs.device.Close()
}

// BootSector exposes the immutable geometry derived at mount.
func (fs *Filesystem) BootSector() *bpb.BootSector { return fs.bootSector }

// FSInfo returns the advisory FAT32 FSInfo hint, or nil if the volume isn't
// FAT32 or the sector was absent/invalid.
func (fs *Filesystem) FSInfo() *bpb.FSInfo { return fs.fsInfo }

// VolumeLabel returns the volume label recorded in the boot sector. The
// label's own directory entry (attribute VOLUME_ID) is never surfaced by
// Directory.List; this accessor is
// the one place the label is exposed.
func (fs *Filesystem) VolumeLabel() string { return fs.bootSector.VolumeLabel }

// OEMName returns the 8-byte OEM identifier string stamped in the boot
// sector at mount time.
func (fs *Filesystem) OEMName() string { return fs.bootSector.OEMName }

// VolumeSerial returns the volume's serial number from the boot sector
//.
func (fs *Filesystem) VolumeSerial() uint32 { return fs.bootSector.VolumeSerial }

// FatTable exposes the underlying FAT table for collaborators that need to
// walk cluster chains directly (the L5 fragmentation analyzer).
func (fs *Filesystem) FatTable() *fattable.Table { return fs.fatTable }

////////////////////////////////////////////////////////////////////////////
// Cluster-level I/O.

func (fs *Filesystem) readCluster(cluster uint32) ([]byte, error) {
	sector := fs.bootSector.ClusterToSector(cluster)
	return fs.device.ReadSectors(blockdev.SectorID(sector), fs.bootSector.SectorsPerCluster)
}

func (fs *Filesystem) writeCluster(cluster uint32, data []byte) error {
	sector := fs.bootSector.ClusterToSector(cluster)
	return fs.device.WriteSectors(blockdev.SectorID(sector), data)
}

// clusterChainBytes reads and concatenates every cluster in the chain
// starting at first, in chain order.
func (fs *Filesystem) clusterChainBytes(first uint32) ([]byte, error) {
	if first == 0 {
		return nil, nil
	}
	chain, err := fs.fatTable.FollowChain(first)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(chain)*int(fs.bootSector.BytesPerCluster))
	for _, c := range chain {
		data, err := fs.readCluster(c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// writeClusterChainBytes writes data across the chain starting at first.
// len(data) must equal the chain's total byte capacity exactly; callers
// size the chain to match before calling this.
func (fs *Filesystem) writeClusterChainBytes(first uint32, data []byte) error {
	chain, err := fs.fatTable.FollowChain(first)
	if err != nil {
		return err
	}
	clusterSize := int(fs.bootSector.BytesPerCluster)
	for i, c := range chain {
		start := i * clusterSize
		end := start + clusterSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, clusterSize)
		if start < len(data) {
			copy(chunk, data[start:end])
		}
		if err := fs.writeCluster(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// Root and path resolution.

// Root returns the volume's root directory.
func (fs *Filesystem) Root() *Directory {
	if fs.bootSector.Variant == bpb.FAT32 {
		return &Directory{fs: fs, isRoot: true, firstCluster: fs.bootSector.FAT32RootCluster}
	}
	return &Directory{
		fs:                   fs,
		isRoot:               true,
		isFixedRoot:          true,
		fixedRootSector:      fs.bootSector.RootDirFirstSector,
		fixedRootSectorCount: fs.bootSector.RootDirSectors,
	}
}

// splitPath splits a "/"-delimited path into non-empty components.
func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveDir walks every component of parts as a directory, starting from
// Root(). An empty parts slice resolves to the root itself.
func (fs *Filesystem) resolveDir(parts []string) (*Directory, error) {
	dir := fs.Root()
	for _, part := range parts {
		e, err := dir.Get(part)
		if err != nil {
			return nil, err
		}
		if !e.IsDir() {
			return nil, errs.Op("resolve", part, errs.ErrNotADirectory)
		}
		dir = fs.openDirectory(e)
	}
	return dir, nil
}

// Get resolves path to an entry (file or directory), relative to the root.
func (fs *Filesystem) Get(path string) (*dirent.Entry, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, errs.Op("get", path, errs.ErrNotAFile)
	}
	dir, err := fs.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return dir.Get(parts[len(parts)-1])
}

// GetFile resolves path to a File, failing with ErrNotAFile if it names a
// directory instead.
func (fs *Filesystem) GetFile(path string) (*File, error) {
	e, err := fs.Get(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, errs.Op("get_file", path, errs.ErrNotAFile)
	}
	parts := splitPath(path)
	parent, err := fs.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, parent: parent, entry: *e}, nil
}

// GetDirectory resolves path to a Directory, failing with ErrNotADirectory
// if it names a file instead. An empty path resolves to the root.
func (fs *Filesystem) GetDirectory(path string) (*Directory, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fs.Root(), nil
	}
	dir, err := fs.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	e, err := dir.Get(parts[len(parts)-1])
	if err != nil {
		return nil, err
	}
	if !e.IsDir() {
		return nil, errs.Op("get_directory", path, errs.ErrNotADirectory)
	}
	return fs.openDirectory(e), nil
}

// CreateFile resolves every intermediate directory in path, creating any
// that are missing, then creates the final file.
func (fs *Filesystem) CreateFile(path string) (*File, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, errs.Op("create_file", path, errs.ErrNameInvalid)
	}
	dir, err := fs.mkdirAllIntermediate(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return dir.CreateFile(parts[len(parts)-1])
}

// CreateDirectory resolves every intermediate directory in path, creating
// any that are missing, then creates the final subdirectory.
func (fs *Filesystem) CreateDirectory(path string) (*Directory, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, errs.Op("create_directory", path, errs.ErrNameInvalid)
	}
	dir, err := fs.mkdirAllIntermediate(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return dir.CreateDirectory(parts[len(parts)-1])
}

func (fs *Filesystem) mkdirAllIntermediate(parts []string) (*Directory, error) {
	dir := fs.Root()
	for _, part := range parts {
		e, err := dir.Get(part)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				created, err := dir.CreateDirectory(part)
				if err != nil {
					return nil, err
				}
				dir = created
				continue
			}
			return nil, err
		}
		if !e.IsDir() {
			return nil, errs.Op("create", part, errs.ErrNotADirectory)
		}
		dir = fs.openDirectory(e)
	}
	return dir, nil
}

// openDirectory wraps an already-resolved directory entry as a Directory
// handle.
func (fs *Filesystem) openDirectory(e *dirent.Entry) *Directory {
	return &Directory{fs: fs, firstCluster: e.FirstCluster}
}
