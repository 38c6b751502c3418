package main

import (
	"math"
	"strconv"
	"strings"
)

// Scores awarded by both evaluators. Round scores are always one of these.
const (
	scoreMiss    = 0
	scoreClosest = 2
	scoreExact   = 3
)

var infinityTokens = []string{
	"бесконечность",
	"бесконечно много",
	"бесконечно",
	"infinity",
	"inf",
	"∞",
}

var bcSuffixes = []string{
	"до нашей эры",
	"до н. э.",
	"до н.э.",
	"до н. э",
	"до н.э",
	"b.c.e.",
	"b.c.",
	"bce",
	"bc",
}

// Magnitude suffixes multiply the numeric prefix. Longer variants come
// first so that e.g. "млрд" wins over a bare "м".
var magnitudeSuffixes = []struct {
	suffix string
	factor float64
}{
	{"квинтиллионов", 1e18},
	{"квинтиллиона", 1e18},
	{"квинтиллион", 1e18},
	{"quintillion", 1e18},
	{"миллиардов", 1e9},
	{"миллиарда", 1e9},
	{"миллиард", 1e9},
	{"миллионов", 1e6},
	{"миллиона", 1e6},
	{"миллион", 1e6},
	{"billion", 1e9},
	{"million", 1e6},
	{"thousand", 1e3},
	{"тысячи", 1e3},
	{"тысяча", 1e3},
	{"тысяч", 1e3},
	{"млрд", 1e9},
	{"тыс.", 1e3},
	{"тыс", 1e3},
	{"млн", 1e6},
	{"k", 1e3},
	{"к", 1e3},
	{"m", 1e6},
	{"b", 1e9},
}

var comparisonTokens = []string{
	"более",
	"менее",
	"больше",
	"меньше",
	"не ранее",
	"не позднее",
	"свыше",
	"как минимум",
	"more than",
	"less than",
	"at least",
	"at most",
	"over",
	"under",
	"<",
	">",
	"≤",
	"≥",
}

var rangeSeparators = []string{
	"—",
	"–",
	"-",
	" to ",
	" until ",
	" до ",
}

func isInfinityToken(s string) bool {
	for _, tok := range infinityTokens {
		if s == tok {
			return true
		}
	}
	return false
}

// parseNumber turns a free-text answer into a float64. It understands
// infinity tokens, BC/BCE year suffixes, magnitude words, percent signs,
// comma decimal separators and scientific notation. The second return is
// false when the text is not numeric at all.
func parseNumber(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}

	if isInfinityToken(s) {
		return math.Inf(1), true
	}

	negated := false
	for _, suffix := range bcSuffixes {
		if strings.HasSuffix(s, suffix) {
			negated = true
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	factor := 1.0
	for _, m := range magnitudeSuffixes {
		if strings.HasSuffix(s, m.suffix) {
			factor = m.factor
			s = strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			break
		}
	}

	s = strings.ReplaceAll(s, ",", ".")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return 0, false
	}

	// ParseFloat accepts "nan", which no distance comparison can use.
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}

	if negated {
		v = -v
	}
	return v * factor, true
}

type answerClass int

const (
	classUnknown answerClass = iota
	classInfinity
	classRange
	classExact
)

type correctAnswer struct {
	class answerClass
	value float64 // exact value, or range midpoint
	lo    float64
	hi    float64
}

// classifyAnswer decides how a correct answer should be compared against, in
// priority order: infinity literal, two-number range, open-ended comparison
// (unscorable), single number, unknown.
func classifyAnswer(raw string) correctAnswer {
	s := strings.ToLower(strings.TrimSpace(raw))

	if isInfinityToken(s) {
		return correctAnswer{class: classInfinity}
	}

	if lo, hi, ok := parseRange(s); ok {
		return correctAnswer{class: classRange, value: (lo + hi) / 2, lo: lo, hi: hi}
	}

	for _, tok := range comparisonTokens {
		if strings.Contains(s, tok) {
			return correctAnswer{class: classUnknown}
		}
	}

	if v, ok := parseNumber(s); ok {
		return correctAnswer{class: classExact, value: v}
	}

	return correctAnswer{class: classUnknown}
}

// parseRange looks for exactly two parsable numbers around a dash or a
// "to"/"until" word, reordering the bounds if needed. "5 до н.э." does not
// split here because its right half is not numeric.
func parseRange(s string) (lo, hi float64, ok bool) {
	for _, sep := range rangeSeparators {
		idx := strings.Index(s, sep)
		if idx <= 0 {
			continue
		}
		left := strings.TrimSpace(s[:idx])
		right := strings.TrimSpace(s[idx+len(sep):])
		if left == "" || right == "" {
			continue
		}

		a, okA := parseNumber(left)
		b, okB := parseNumber(right)
		if !okA || !okB {
			continue
		}

		if a > b {
			a, b = b, a
		}
		return a, b, true
	}
	return 0, 0, false
}

// evaluateNumerically scores every player's free-text answer against the raw
// correct answer. Exact hits (or values inside the range) score 3; among the
// remaining parsable answers everyone tied for the minimum distance scores 2,
// except in exact mode once somebody has hit the value dead on, and except in
// infinity mode where closeness is meaningless. Pure and deterministic.
func evaluateNumerically(correctRaw string, answers map[string]string) map[string]int {
	scores := make(map[string]int, len(answers))
	for id := range answers {
		scores[id] = scoreMiss
	}

	correct := classifyAnswer(correctRaw)
	if correct.class == classUnknown {
		return scores
	}

	type candidate struct {
		id   string
		dist float64
	}

	var candidates []candidate
	best := math.Inf(1)
	anyExact := false

	for id, raw := range answers {
		v, ok := parseNumber(raw)
		if !ok {
			continue
		}

		switch correct.class {
		case classInfinity:
			if math.IsInf(v, 1) {
				scores[id] = scoreExact
			}

		case classRange:
			if v >= correct.lo && v <= correct.hi {
				scores[id] = scoreExact
				continue
			}
			dist := math.Min(math.Abs(v-correct.lo), math.Abs(v-correct.hi))
			candidates = append(candidates, candidate{id: id, dist: dist})
			best = math.Min(best, dist)

		case classExact:
			if v == correct.value {
				scores[id] = scoreExact
				anyExact = true
				continue
			}
			dist := math.Abs(v - correct.value)
			candidates = append(candidates, candidate{id: id, dist: dist})
			best = math.Min(best, dist)
		}
	}

	// An exact hit leaves nothing for the closest tier; a hit inside a
	// range does not (both bounds may still have someone "closest").
	if correct.class == classExact && anyExact {
		return scores
	}

	for _, c := range candidates {
		if c.dist == best {
			scores[c.id] = scoreClosest
		}
	}

	return scores
}
