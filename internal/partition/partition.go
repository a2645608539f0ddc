// Package partition computes search terms that split a street-name
// universe into substring buckets small enough to stay under the
// external API's result cap.
package partition

import (
	"math"
	"strings"
)

// Alphabet is the fixed set of letters tried as single-letter filters.
// The most common Spanish letters are left out: they match nearly every
// street and never discriminate.
var Alphabet = []string{
	"B", "D", "E", "F", "G", "H", "I", "J", "K",
	"M", "N", "Ñ", "O", "Q", "S", "W", "X", "Y", "Z",
}

// DefaultAcceptPercent is the share of the street universe a candidate
// filter may match before it counts as too frequent.
const DefaultAcceptPercent = 30

// Two-letter sequences matching at or below these shares are wasted
// effort and are dropped.
const (
	prefixFloorPercent = 2
	suffixFloorPercent = 1
)

// Splitter partitions one area's street names. Street names must
// already be case-normalized with diacritics folded and non-letters
// stripped.
type Splitter struct {
	streets []string
}

// NewSplitter wraps the street universe of a single area.
func NewSplitter(streets []string) *Splitter {
	return &Splitter{streets: streets}
}

// MatchCount returns how many streets contain the sequence.
func (s *Splitter) MatchCount(seq string) int {
	n := 0
	for _, street := range s.streets {
		if strings.Contains(street, seq) {
			n++
		}
	}
	return n
}

func (s *Splitter) matchPercent(seq string) int {
	if len(s.streets) == 0 {
		return 0
	}
	return int(math.Round(float64(s.MatchCount(seq)) / float64(len(s.streets)) * 100))
}

// unmatched returns the streets containing none of the sequences.
func (s *Splitter) unmatched(seqs []string) []string {
	var left []string
outer:
	for _, street := range s.streets {
		for _, seq := range seqs {
			if strings.Contains(street, seq) {
				continue outer
			}
		}
		left = append(left, street)
	}
	return left
}

func (s *Splitter) unmatchedCount(seqs []string) int {
	n := 0
outer:
	for _, street := range s.streets {
		for _, seq := range seqs {
			if strings.Contains(street, seq) {
				continue outer
			}
		}
		n++
	}
	return n
}

// FindValidLetters splits the alphabet by match share: letters under
// acceptPercent are usable filters, the rest are too frequent.
func (s *Splitter) FindValidLetters(acceptPercent int) (valid, frequent []string) {
	for _, letter := range Alphabet {
		if s.matchPercent(letter) < acceptPercent {
			valid = append(valid, letter)
		} else {
			frequent = append(frequent, letter)
		}
	}
	return valid, frequent
}

// FindTwoLetterSequences refines each frequent letter by prefixing and
// suffixing it with every known letter, keeping sequences whose share
// fell under acceptPercent without dropping below the usefulness floor.
// The surviving sequences are appended to the valid list.
func (s *Splitter) FindTwoLetterSequences(valid, frequent []string, acceptPercent int) []string {
	candidates := append([]string(nil), valid...)
	all := append(append([]string(nil), valid...), frequent...)

	for _, freq := range frequent {
		for _, letter := range all {
			if p := s.matchPercent(letter + freq); p < acceptPercent && p > prefixFloorPercent {
				candidates = append(candidates, letter+freq)
			}
			if p := s.matchPercent(freq + letter); p < acceptPercent && p > suffixFloorPercent {
				candidates = append(candidates, freq+letter)
			}
		}
	}
	return candidates
}

// FindBestCombination greedily grows base with whichever candidate
// leaves the fewest streets unmatched, stopping as soon as every street
// is covered. When the candidates run out first, the streets still
// unmatched are returned as literal search terms alongside the
// accumulated sequences, so the result always covers the universe.
func (s *Splitter) FindBestCombination(base, candidates []string) []string {
	combo := append([]string(nil), base...)
	remaining := append([]string(nil), candidates...)

	for len(remaining) > 0 {
		bestLeft := -1
		bestIdx := 0
		for i, cand := range remaining {
			left := s.unmatchedCount(append(combo, cand))
			if left == 0 {
				return append(combo, cand)
			}
			if bestLeft < 0 || left < bestLeft {
				bestLeft = left
				bestIdx = i
			}
		}
		combo = append(combo, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return append(s.unmatched(combo), combo...)
}

// Terms is the partitioning entry point: it classifies letters, refines
// the frequent ones into two-letter sequences, and grows one greedy
// combination. Only the first candidate is ever used as the seed; a
// single partition attempt is considered sufficient per escalation, and
// a later pass re-escalates any term that still caps.
func Terms(streets []string, acceptPercent int) []string {
	if len(streets) == 0 {
		return nil
	}
	s := NewSplitter(streets)
	valid, frequent := s.FindValidLetters(acceptPercent)
	candidates := s.FindTwoLetterSequences(valid, frequent, acceptPercent)
	if len(candidates) == 0 {
		return nil
	}
	seed := candidates[0]
	return s.FindBestCombination([]string{seed}, candidates[1:])
}

