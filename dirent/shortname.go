package dirent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ardenfel/vfat/errs"
)

// shortNameAlphabet is every character the 8.3 charset allows, besides
// uppercase letters and digits.
const shortNameAlphabet = "!#$%&'()-@^_`{}~."

// NeedsLFN reports whether name requires a Long Filename sequence: it's
// too long, has characters outside the short-name alphabet, contains a
// space, lowercase letters, more than one dot, a base longer than 8
// characters, or any non-ASCII rune.
func NeedsLFN(name string) bool {
	if len(name) > 12 {
		return true
	}
	if base, _ := splitBaseExt(name); len(base) > 8 {
		return true
	}
	dotCount := 0
	for _, r := range name {
		switch {
		case r > 127:
			return true
		case r == ' ':
			return true
		case r >= 'a' && r <= 'z':
			return true
		case r == '.':
			dotCount++
			if dotCount > 1 {
				return true
			}
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			// fine
		case strings.ContainsRune(shortNameAlphabet, r):
			// fine
		default:
			return true
		}
	}
	return false
}

// sanitizeForShortName uppercases name and strips every character outside
// the short-name alphabet, including whitespace.
func sanitizeForShortName(name string) string {
	upper := strings.ToUpper(name)
	var b strings.Builder
	for _, r := range upper {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(shortNameAlphabet, r):
			if r != '.' {
				b.WriteRune(r)
			} else {
				b.WriteRune('.')
			}
		}
	}
	return b.String()
}

func splitBaseExt(sanitized string) (base, ext string) {
	idx := strings.LastIndex(sanitized, ".")
	if idx < 0 {
		return sanitized, ""
	}
	base = sanitized[:idx]
	ext = sanitized[idx+1:]
	if len(ext) > 3 {
		ext = ext[:3]
	}
	return base, ext
}

// maxExistingSuffix scans existingShortNames for names of the form
// "PREFIX~N" or "PREFIX~N.ext" and returns the maximum N found for the
// given prefix/extension pair.
func maxExistingSuffix(existingShortNames map[string]bool, prefix, ext string) int {
	max := 0
	suffixPrefix := prefix + "~"
	for name := range existingShortNames {
		base, nameExt := splitBaseExt(name)
		if !strings.HasPrefix(base, suffixPrefix) {
			continue
		}
		if !strings.EqualFold(nameExt, ext) {
			continue
		}
		digits := base[len(suffixPrefix):]
		if digits == "" {
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

// GenerateShortName synthesizes a unique 8.3 short name for a long display
// name, given the set of short names already present in the directory. It
// escalates by shortening the prefix whenever "PREFIX~N" would overflow 8
// characters, failing with ErrNameGenerationExhausted once the suffix
// counter N would need to exceed 999999.
func GenerateShortName(longName string, existingShortNames map[string]bool) (string, error) {
	sanitized := sanitizeForShortName(longName)
	base, ext := splitBaseExt(sanitized)
	if base == "" {
		base = "FSOBJ"
	}

	prefixLen := 6
	if prefixLen > len(base) {
		prefixLen = len(base)
	}

	for prefixLen >= 1 {
		prefix := base[:prefixLen]
		m := maxExistingSuffix(existingShortNames, prefix, ext)
		suffix := m + 1
		if suffix > 999999 {
			return "", errs.ErrNameGenerationExhausted
		}

		candidateBase := fmt.Sprintf("%s~%d", prefix, suffix)
		if len(candidateBase) <= 8 {
			shortName := candidateBase
			if ext != "" {
				shortName += "." + ext
			}
			return shortName, nil
		}
		prefixLen--
	}
	return "", errs.ErrNameGenerationExhausted
}
