package dirent

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// lfnLastFlag marks the highest ordinal in a run -- textually the *last*
// fragment of the name, but stored *first* on disk, immediately before the
// preceding LFN entries and the 8.3 entry.
const lfnLastFlag = 0x40
const lfnOrdinalMask = 0x1F
const lfnMaxOrdinal = 20
const lfnCharsPerEntry = 13 // 5 + 6 + 2 UTF-16 code units

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// rawLFN is the on-disk layout of one LFN auxiliary record.
type rawLFN struct {
	Ordinal   uint8
	Chars1    [5]uint16 // offsets 1..10
	Attr      uint8     // always AttrLongName
	Type      uint8     // always 0
	Checksum  uint8
	Chars2    [6]uint16 // offsets 14..25
	FirstClus uint16    // always 0
	Chars3    [2]uint16 // offsets 28..31
}

func decodeLFN(b []byte) rawLFN {
	var r rawLFN
	r.Ordinal = b[0]
	for i := 0; i < 5; i++ {
		r.Chars1[i] = binary.LittleEndian.Uint16(b[1+i*2 : 3+i*2])
	}
	r.Attr = b[11]
	r.Type = b[12]
	r.Checksum = b[13]
	for i := 0; i < 6; i++ {
		r.Chars2[i] = binary.LittleEndian.Uint16(b[14+i*2 : 16+i*2])
	}
	r.FirstClus = binary.LittleEndian.Uint16(b[26:28])
	for i := 0; i < 2; i++ {
		r.Chars3[i] = binary.LittleEndian.Uint16(b[28+i*2 : 30+i*2])
	}
	return r
}

func (r rawLFN) encode(b []byte) {
	b[0] = r.Ordinal
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(b[1+i*2:3+i*2], r.Chars1[i])
	}
	b[11] = AttrLongName
	b[12] = r.Type
	b[13] = r.Checksum
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(b[14+i*2:16+i*2], r.Chars2[i])
	}
	binary.LittleEndian.PutUint16(b[26:28], 0)
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(b[28+i*2:30+i*2], r.Chars3[i])
	}
}

// codeUnits returns the 13 UTF-16 code units (padded with 0xFFFF following
// a U+0000 terminator) carried by this fragment.
func (r rawLFN) codeUnits() [13]uint16 {
	var out [13]uint16
	copy(out[0:5], r.Chars1[:])
	copy(out[5:11], r.Chars2[:])
	copy(out[11:13], r.Chars3[:])
	return out
}

// encodeUTF16LE converts a UTF-8 Go string into UTF-16LE code units.
func encodeUTF16LE(s string) ([]uint16, error) {
	encoded, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	units := make([]uint16, len(encoded)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(encoded[i*2 : i*2+2])
	}
	return units, nil
}

// decodeUTF16LE converts UTF-16LE code units back into a UTF-8 Go string.
func decodeUTF16LE(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:i*2+2], u)
	}
	decoded, err := utf16LE.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// buildLFNEntries computes the LFN auxiliary records for displayName,
// ordered for on-disk placement (highest ordinal first, i.e. reverse
// ordinal order), each carrying checksum, the checksum of the chosen 8.3
// short name.
func buildLFNEntries(displayName string, checksum uint8) ([][EntrySize]byte, error) {
	units, err := encodeUTF16LE(displayName)
	if err != nil {
		return nil, err
	}
	// Terminate with U+0000 and pad to a multiple of 13 with 0xFFFF.
	units = append(units, 0x0000)
	for len(units)%lfnCharsPerEntry != 0 {
		units = append(units, 0xFFFF)
	}

	fragmentCount := len(units) / lfnCharsPerEntry
	entries := make([][EntrySize]byte, fragmentCount)

	for i := 0; i < fragmentCount; i++ {
		ordinal := uint8(i + 1)
		frag := units[i*lfnCharsPerEntry : (i+1)*lfnCharsPerEntry]

		var r rawLFN
		r.Ordinal = ordinal
		if i == fragmentCount-1 {
			r.Ordinal |= lfnLastFlag
		}
		copy(r.Chars1[:], frag[0:5])
		copy(r.Chars2[:], frag[5:11])
		copy(r.Chars3[:], frag[11:13])
		r.Checksum = checksum

		// Write in reverse ordinal order: index 0 of the returned slice is
		// the highest ordinal, closest to the start of the directory
		// region.
		slotIndex := fragmentCount - 1 - i
		r.encode(entries[slotIndex][:])
	}
	return entries, nil
}

// lfnFragment is one parsed (not yet validated as part of a contiguous run)
// LFN auxiliary record.
type lfnFragment struct {
	ordinal  uint8
	isLast   bool
	checksum uint8
	units    [13]uint16
}

func parseLFNFragment(b []byte) lfnFragment {
	r := decodeLFN(b)
	return lfnFragment{
		ordinal:  r.Ordinal & lfnOrdinalMask,
		isLast:   r.Ordinal&lfnLastFlag != 0,
		checksum: r.Checksum,
		units:    r.codeUnits(),
	}
}

// reconstructLongName validates a buffered run of LFN fragments against the
// 8.3 checksum it precedes and, if valid, reconstructs the long name.
//
// Validity: every fragment shares one checksum equal to the 8.3
// entry's; sorted by ordinal they are contiguous 1..N with no gaps; exactly
// the highest ordinal carries the "last" flag. On any violation the caller
// must discard the buffer and fall back to the short name alone.
func reconstructLongName(fragments []lfnFragment, shortNameChecksum uint8) (string, bool) {
	if len(fragments) == 0 {
		return "", false
	}

	byOrdinal := make(map[uint8]lfnFragment, len(fragments))
	var lastOrdinal uint8
	lastCount := 0

	for _, f := range fragments {
		if f.ordinal == 0 || f.ordinal > lfnMaxOrdinal {
			return "", false
		}
		if f.checksum != shortNameChecksum {
			return "", false
		}
		if _, dup := byOrdinal[f.ordinal]; dup {
			return "", false
		}
		byOrdinal[f.ordinal] = f
		if f.isLast {
			lastCount++
			if f.ordinal > lastOrdinal {
				lastOrdinal = f.ordinal
			}
		}
	}

	if lastCount != 1 {
		return "", false
	}
	if int(lastOrdinal) != len(fragments) {
		return "", false
	}
	for i := uint8(1); i <= lastOrdinal; i++ {
		if _, ok := byOrdinal[i]; !ok {
			return "", false
		}
	}

	var units []uint16
	for i := uint8(1); i <= lastOrdinal; i++ {
		frag := byOrdinal[i]
		for _, u := range frag.units {
			if u == 0x0000 {
				goto terminated
			}
			if u == 0xFFFF {
				continue
			}
			units = append(units, u)
		}
	}
terminated:

	name, err := decodeUTF16LE(units)
	if err != nil {
		return "", false
	}
	return name, true
}
