// Package match provides the pure string-matching primitives used by
// track resolution: a similarity ratio and version-tag inference from
// title/album text. Nothing here performs I/O.
package match

import "strings"

// VersionTag classifies the character of a recording.
type VersionTag string

const (
	VersionStudio       VersionTag = "studio"
	VersionLive         VersionTag = "live"
	VersionRemix        VersionTag = "remix"
	VersionRemaster     VersionTag = "remaster"
	VersionCompilation  VersionTag = "compilation"
	VersionInstrumental VersionTag = "instrumental"
	VersionAcoustic     VersionTag = "acoustic"
	VersionOriginal     VersionTag = "original"
)

// compilationKeywords mark an album as a compilation release.
var compilationKeywords = []string{"greatest hits", "best of", "collection", "anthology"}

// Similarity returns a ratio in [0, 1] measuring how alike two strings
// are, case-insensitively. The ratio is 2*M/T where M is the total
// length of matching blocks and T the combined length, matching the
// behavior of classic sequence-matcher ratios.
func Similarity(s1, s2 string) float64 {
	a := []rune(strings.ToLower(s1))
	b := []rune(strings.ToLower(s2))

	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}

	matches := matchingLen(a, b)
	return 2.0 * float64(matches) / float64(total)
}

// matchingLen sums the lengths of matching blocks found by recursively
// splitting around the longest common substring.
func matchingLen(a, b []rune) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	left := matchingLen(a[:ai], b[:bi])
	right := matchingLen(a[ai+size:], b[bi+size:])
	return left + size + right
}

// longestCommonBlock returns the start offsets and length of the
// longest common substring of a and b.
func longestCommonBlock(a, b []rune) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0

	// lengths[j] holds the length of the common suffix ending at
	// a[i-1], b[j-1] for the current row.
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > bestSize {
					bestSize = lengths[j]
					bestA = i - bestSize
					bestB = j - bestSize
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}

	return bestA, bestB, bestSize
}

// InferVersion determines the version tag of a recording from its
// title and album text. The rule is deterministic and total: every
// input maps to exactly one of live, remix, compilation, remaster, or
// studio, tested in that priority order.
func InferVersion(title, album string) VersionTag {
	titleLower := strings.ToLower(title)
	albumLower := strings.ToLower(album)
	combined := titleLower + " " + albumLower

	if strings.Contains(combined, "live") {
		return VersionLive
	}
	// "mix" also covers "remix".
	if strings.Contains(combined, "mix") {
		return VersionRemix
	}
	for _, kw := range compilationKeywords {
		if strings.Contains(albumLower, kw) {
			return VersionCompilation
		}
	}
	if strings.Contains(combined, "remaster") {
		return VersionRemaster
	}
	return VersionStudio
}

// Keywords returns the substrings whose presence in record text
// confirms the given version tag, as used by the verification chain.
func Keywords(tag VersionTag) []string {
	switch tag {
	case VersionLive:
		return []string{"live"}
	case VersionRemix:
		return []string{"remix", "mix"}
	case VersionRemaster:
		return []string{"remaster"}
	case VersionCompilation:
		return compilationKeywords
	case VersionInstrumental:
		return []string{"instrumental"}
	case VersionAcoustic:
		return []string{"acoustic"}
	default:
		return nil
	}
}

// IsAlternate reports whether tag names a specific alternate version
// that external verification can confirm.
func IsAlternate(tag VersionTag) bool {
	switch tag {
	case VersionLive, VersionRemix, VersionRemaster:
		return true
	}
	return false
}
