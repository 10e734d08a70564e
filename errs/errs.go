// Package errs defines the error taxonomy shared by every layer of the
// volume engine. Errors are plain sentinel values compared with errors.Is.
package errs

import "fmt"

// VolumeError is a sentinel error kind. Callers compare against these with
// errors.Is; operation-specific context is layered on top with fmt.Errorf's
// %w verb rather than by subclassing.
type VolumeError string

func (e VolumeError) Error() string { return string(e) }

const (
	// ErrIO wraps an underlying block device failure.
	ErrIO = VolumeError("i/o error")
	// ErrInvalidBootSector is fatal at mount: a BPB field failed validation.
	ErrInvalidBootSector = VolumeError("invalid boot sector")
	// ErrInvalidFatEntry marks a FAT entry that is out of range or otherwise
	// impossible for the running variant.
	ErrInvalidFatEntry = VolumeError("invalid FAT entry")
	// ErrChainCorrupt marks a cluster chain that cycles or exceeds the total
	// cluster count.
	ErrChainCorrupt = VolumeError("cluster chain corrupt")
	// ErrNoSpace is returned when no free cluster/directory slot exists.
	ErrNoSpace = VolumeError("no space left on device")
	// ErrDirectoryFull means a new entry doesn't fit and the directory can't
	// be expanded (the FAT12/16 root).
	ErrDirectoryFull = VolumeError("directory full")
	// ErrDirectoryNotEmpty is returned when deleting a non-empty directory.
	ErrDirectoryNotEmpty = VolumeError("directory not empty")
	// ErrNotFound means path resolution found nothing by that name.
	ErrNotFound = VolumeError("not found")
	// ErrNotAFile means path resolution landed on a directory where a file
	// was expected.
	ErrNotAFile = VolumeError("not a file")
	// ErrNotADirectory means path resolution landed on a file where a
	// directory was expected.
	ErrNotADirectory = VolumeError("not a directory")
	// ErrNameInvalid covers empty names, names over 255 chars, and names
	// with disallowed control bytes.
	ErrNameInvalid = VolumeError("invalid name")
	// ErrNameGenerationExhausted means no unique 8.3 short name could be
	// synthesized for a long name.
	ErrNameGenerationExhausted = VolumeError("short name generation exhausted")
	// ErrCannotDeleteRoot is returned for any attempt to delete the root
	// directory.
	ErrCannotDeleteRoot = VolumeError("cannot delete root directory")
	// ErrInvalidSize is returned by Truncate for a negative size.
	ErrInvalidSize = VolumeError("invalid size")
	// ErrExists is returned when create_file/create_directory finds an
	// existing entry of a conflicting type.
	ErrExists = VolumeError("already exists")
)

// Op wraps err with an operation name and a path or cluster description so
// a caller always has enough context to report the failure.
func Op(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, subject, err)
}
