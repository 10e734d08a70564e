package vfat

import (
	"time"

	"github.com/ardenfel/vfat/dirent"
	"github.com/ardenfel/vfat/errs"
)

// File is a handle onto a regular file's directory entry and cluster
// chain.
type File struct {
	fs     *Filesystem
	parent *Directory
	entry  dirent.Entry
}

// Name returns the file's display name.
func (f *File) Name() string { return f.entry.DisplayName }

// Size returns the file's current size in bytes.
func (f *File) Size() uint32 { return f.entry.Size }

// IsReadOnly reports the READ_ONLY attribute bit.
func (f *File) IsReadOnly() bool { return f.entry.IsReadOnly() }

// ReadAll follows the file's cluster chain, concatenates the bytes,
// truncates to the recorded size, and updates the access timestamp.
func (f *File) ReadAll() ([]byte, error) {
	var data []byte
	if f.entry.FirstCluster != 0 && f.entry.Size > 0 {
		chainBytes, err := f.fs.clusterChainBytes(f.entry.FirstCluster)
		if err != nil {
			return nil, errs.Op("read_all", f.entry.DisplayName, err)
		}
		if uint32(len(chainBytes)) < f.entry.Size {
			return nil, errs.Op("read_all", f.entry.DisplayName, errs.ErrChainCorrupt)
		}
		data = chainBytes[:f.entry.Size]
	}

	f.entry.LastAccessed = time.Now()
	if err := f.parent.persistSlot(&f.entry); err != nil {
		return nil, errs.Op("read_all", f.entry.DisplayName, err)
	}
	return data, nil
}

// Write replaces the file's entire contents with data: frees any existing
// chain first, allocates a fresh chain sized to data, writes it, and
// updates the directory entry.
func (f *File) Write(data []byte) error {
	if f.entry.FirstCluster != 0 {
		if err := f.fs.fatTable.FreeChain(f.entry.FirstCluster); err != nil {
			return errs.Op("write", f.entry.DisplayName, err)
		}
		f.entry.FirstCluster = 0
	}

	clusterSize := f.fs.bootSector.BytesPerCluster
	if len(data) > 0 {
		numClusters := uint((len(data) + int(clusterSize) - 1) / int(clusterSize))
		first, err := f.fs.fatTable.AllocateChain(numClusters)
		if err != nil {
			return errs.Op("write", f.entry.DisplayName, err)
		}

		padded := make([]byte, numClusters*clusterSize)
		copy(padded, data) // zero-fills the tail of the last cluster

		if err := f.fs.writeClusterChainBytes(first, padded); err != nil {
			_ = f.fs.fatTable.FreeChain(first)
			return errs.Op("write", f.entry.DisplayName, err)
		}
		f.entry.FirstCluster = first
	}

	now := time.Now()
	f.entry.Size = uint32(len(data))
	f.entry.LastModified = now
	f.entry.LastAccessed = now
	f.entry.Attr |= dirent.AttrArchive

	if err := f.parent.persistSlot(&f.entry); err != nil {
		return errs.Op("write", f.entry.DisplayName, err)
	}
	return nil
}

// Append reads the file's current contents, concatenates data, and
// delegates to Write.
func (f *File) Append(data []byte) error {
	existing, err := f.ReadAll()
	if err != nil {
		return err
	}
	combined := make([]byte, 0, len(existing)+len(data))
	combined = append(combined, existing...)
	combined = append(combined, data...)
	return f.Write(combined)
}

// Truncate resizes the file to newSize: padding with zero bytes if larger,
// or keeping only the leading newSize bytes if smaller.
func (f *File) Truncate(newSize int64) error {
	if newSize < 0 {
		return errs.Op("truncate", f.entry.DisplayName, errs.ErrInvalidSize)
	}

	current, err := f.ReadAll()
	if err != nil {
		return err
	}

	if newSize <= int64(len(current)) {
		return f.Write(current[:newSize])
	}

	padded := make([]byte, newSize)
	copy(padded, current)
	return f.Write(padded)
}
