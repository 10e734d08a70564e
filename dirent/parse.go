package dirent

import (
	"strings"
	"time"
)

// ParseDirectory scans a directory's raw byte region (the fixed FAT12/16
// root region, or the concatenation of a directory's cluster chain) and
// returns every live record it finds, reconstructing LFN names where a
// valid sequence precedes an 8.3 entry.
//
// Orphan or corrupt LFN runs are not an error: they are defensively
// dropped, and the 8.3 record is still emitted using its short name alone.
func ParseDirectory(data []byte) []Entry {
	var entries []Entry
	var lfnBuffer []lfnFragment

	for offset := 0; offset+EntrySize <= len(data); offset += EntrySize {
		slot := data[offset : offset+EntrySize]

		switch slot[0] {
		case freeMarker:
			// S0 idle on 0x00: end of directory.
			return entries
		case deletedMarker:
			lfnBuffer = nil
			continue
		}

		attr := slot[11]
		if attr == AttrLongName {
			lfnBuffer = append(lfnBuffer, parseLFNFragment(slot))
			continue
		}
		if attr&AttrVolumeID != 0 {
			lfnBuffer = nil
			continue
		}

		raw := decode83(slot)
		shortName := raw11ToName(raw.Name)

		e := Entry{
			ShortName:    shortName,
			Attr:         raw.Attr,
			FirstCluster: uint32(raw.FirstClusterHi)<<16 | uint32(raw.FirstClusterLo),
			Size:         raw.FileSize,
			Created:      ComposeTime(raw.CreateDate, raw.CreateTime),
			LastModified: ComposeTime(raw.WriteDate, raw.WriteTime),
			SlotOffset:   offset,
		}
		e.LastAccessed = e.Created
		if raw.LastAccessDate != 0 {
			y, m, d := UnpackDate(raw.LastAccessDate)
			e.LastAccessed = time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.Local)
		}

		checksum := Checksum(raw.Name)
		if longName, ok := reconstructLongName(lfnBuffer, checksum); ok {
			e.DisplayName = longName
			e.LFNSlotCount = len(lfnBuffer)
		} else {
			e.DisplayName = shortName
		}
		lfnBuffer = nil

		entries = append(entries, e)
	}
	return entries
}

// FindConsecutiveFree returns the byte offset of the first run of k
// consecutive free/deleted 32-byte slots in data, or -1 if none exists.
func FindConsecutiveFree(data []byte, k int) int {
	run := 0
	runStart := -1
	for offset := 0; offset+EntrySize <= len(data); offset += EntrySize {
		b := data[offset]
		if b == freeMarker || b == deletedMarker {
			if run == 0 {
				runStart = offset
			}
			run++
			if run == k {
				return runStart
			}
			// A 0x00 marks "end of directory"; everything past it is also
			// free, so a run starting here can keep extending even though
			// nothing past it has been formatted as an explicit free slot.
			if b == freeMarker {
				continue
			}
		} else {
			run = 0
		}
	}
	return -1
}

// BuiltEntry is the set of raw 32-byte records ready to be written
// contiguously into a directory's free region for a newly created file or
// subdirectory.
type BuiltEntry struct {
	Slots     [][EntrySize]byte // LFN slots (if any) followed by the 8.3 slot, in write order
	ShortName string
}

// BuildEntry assembles the on-disk records for a new entry named
// displayName. If displayName doesn't need an LFN, it's used as its own
// short name directly (normalized to the padded 8.3 form); otherwise a
// unique short name is synthesized from existingShortNames.
func BuildEntry(
	displayName string,
	attr uint8,
	firstCluster uint32,
	size uint32,
	created, modified, accessed time.Time,
	existingShortNames map[string]bool,
) (BuiltEntry, error) {
	needsLFN := NeedsLFN(displayName)

	var shortName string
	var err error
	if needsLFN {
		shortName, err = GenerateShortName(displayName, existingShortNames)
		if err != nil {
			return BuiltEntry{}, err
		}
	} else {
		shortName = normalizeOwnShortName(displayName)
	}

	raw11 := nameToRaw11(shortName)
	checksum := Checksum(raw11)

	var slots [][EntrySize]byte
	if needsLFN {
		lfnSlots, err := buildLFNEntries(displayName, checksum)
		if err != nil {
			return BuiltEntry{}, err
		}
		slots = append(slots, lfnSlots...)
	}

	var r raw83
	r.Name = raw11
	r.Attr = attr
	r.FirstClusterHi = uint16(firstCluster >> 16)
	r.FirstClusterLo = uint16(firstCluster & 0xFFFF)
	r.FileSize = size
	r.CreateDate = PackDate(created)
	r.CreateTime = PackTime(created)
	r.WriteDate = PackDate(modified)
	r.WriteTime = PackTime(modified)
	r.LastAccessDate = PackDate(accessed)

	var entrySlot [EntrySize]byte
	r.encode(entrySlot[:])
	slots = append(slots, entrySlot)

	return BuiltEntry{Slots: slots, ShortName: shortName}, nil
}

// normalizeOwnShortName renders a name that already satisfies NeedsLFN==false
// into its canonical "BASE.EXT" (uppercased, space-trimmed) form by round
// tripping it through the raw 8.3 encoding.
func normalizeOwnShortName(name string) string {
	return raw11ToName(nameToRaw11(strings.ToUpper(name)))
}

// WriteSlots copies built entries into data starting at offset. It writes
// no directory-end sentinel of its own; callers are responsible for
// ensuring data[offset:offset+len(slots)*EntrySize] was already a free
// run.
func WriteSlots(data []byte, offset int, slots [][EntrySize]byte) {
	for i, slot := range slots {
		copy(data[offset+i*EntrySize:offset+(i+1)*EntrySize], slot[:])
	}
}

// MarkDeleted marks the 8.3 record at slotOffset, and the lfnSlotCount LFN
// records immediately preceding it, as deleted (0xE5).
func MarkDeleted(data []byte, slotOffset int, lfnSlotCount int) {
	start := slotOffset - lfnSlotCount*EntrySize
	for offset := start; offset <= slotOffset; offset += EntrySize {
		data[offset] = deletedMarker
	}
}
