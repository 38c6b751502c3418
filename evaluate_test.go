package main

import (
	"math"
	"reflect"
	"testing"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1998", 1998, true},
		{"  42  ", 42, true},
		{"2,5", 2.5, true},
		{"1 000 000", 1000000, true},
		{"3e5", 300000, true},
		{"-17", -17, true},
		{"50%", 50, true},
		{"10к", 10000, true},
		{"2k", 2000, true},
		{"1.5m", 1500000, true},
		{"3b", 3e9, true},
		{"8 миллиардов", 8e9, true},
		{"5 тысяч", 5000, true},
		{"2 quintillion", 2e18, true},
		{"476 до н.э.", -476, true},
		{"220 до нашей эры", -220, true},
		{"5 b.c.e.", -5, true},
		{"44 bc", -44, true},
		{"бесконечность", math.Inf(1), true},
		{"infinity", math.Inf(1), true},
		{"∞", math.Inf(1), true},
		{"сорок два", 0, false},
		{"", 0, false},
		{"Джек Воробей", 0, false},
		{"nan", 0, false},
		{"NaN", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseNumber(tc.in)
		if ok != tc.ok {
			t.Errorf("parseNumber(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("parseNumber(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClassifyAnswer(t *testing.T) {
	if c := classifyAnswer("бесконечность"); c.class != classInfinity {
		t.Errorf("infinity token classified as %d", c.class)
	}

	c := classifyAnswer("10-20")
	if c.class != classRange || c.lo != 10 || c.hi != 20 || c.value != 15 {
		t.Errorf("range classified as %+v", c)
	}

	// Bounds given in the wrong order are swapped.
	c = classifyAnswer("20 - 10")
	if c.class != classRange || c.lo != 10 || c.hi != 20 {
		t.Errorf("reversed range classified as %+v", c)
	}

	if c := classifyAnswer("более 100"); c.class != classUnknown {
		t.Errorf("open-ended answer classified as %d", c.class)
	}
	if c := classifyAnswer("more than 9000"); c.class != classUnknown {
		t.Errorf("open-ended answer classified as %d", c.class)
	}

	c = classifyAnswer("5 до н.э.")
	if c.class != classExact || c.value != -5 {
		t.Errorf("BC year classified as %+v", c)
	}

	if c := classifyAnswer("Джек Воробей"); c.class != classUnknown {
		t.Errorf("text answer classified as %d", c.class)
	}
}

func TestEvaluateExactMatchDominates(t *testing.T) {
	// Scenario A: once somebody hits the value exactly, distance no
	// longer earns anyone the closest tier.
	scores := evaluateNumerically("1998", map[string]string{
		"a": "1998",
		"b": "2000",
	})

	want := map[string]int{"a": 3, "b": 0}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}
}

func TestEvaluateRangeWithClosestTies(t *testing.T) {
	// Scenario B: 15 is inside the range; 25 and 5 are both 5 away from
	// the nearest bound and share the closest tier.
	scores := evaluateNumerically("10-20", map[string]string{
		"in":   "15",
		"high": "25",
		"low":  "5",
	})

	want := map[string]int{"in": 3, "high": 2, "low": 2}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}
}

func TestEvaluateRangeBoundsInclusive(t *testing.T) {
	scores := evaluateNumerically("10-20", map[string]string{
		"lo":  "10",
		"hi":  "20",
		"out": "21",
	})

	if scores["lo"] != 3 || scores["hi"] != 3 {
		t.Errorf("range bounds should score 3, got %v", scores)
	}
	if scores["out"] != 2 {
		t.Errorf("only non-exact parsable answer should still be closest, got %v", scores)
	}
}

func TestEvaluateInfinity(t *testing.T) {
	// Scenario C: only a literal infinity answer counts, no closest tier.
	scores := evaluateNumerically("бесконечность", map[string]string{
		"inf": "infinity",
		"big": "999999",
	})

	want := map[string]int{"inf": 3, "big": 0}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}
}

func TestEvaluateBCEquivalence(t *testing.T) {
	// Scenario D: different BC phrasings are the same value.
	scores := evaluateNumerically("5 b.c.e.", map[string]string{
		"p": "5 до н.э.",
	})

	if scores["p"] != 3 {
		t.Fatalf("equivalent BC phrasing should be exact, got %v", scores)
	}
}

func TestEvaluateClosestTieFairness(t *testing.T) {
	scores := evaluateNumerically("100", map[string]string{
		"a": "90",
		"b": "110",
		"c": "150",
		"d": "пятьдесят",
	})

	if scores["a"] != 2 || scores["b"] != 2 {
		t.Errorf("both minimum-distance answers should score 2, got %v", scores)
	}
	if scores["c"] != 0 {
		t.Errorf("farther answer should score 0, got %v", scores)
	}
	if scores["d"] != 0 {
		t.Errorf("unparsable answer should score 0, got %v", scores)
	}
}

func TestEvaluateNaNAnswerIgnored(t *testing.T) {
	// A "nan" answer must stay out of the candidate pool, or its NaN
	// distance would poison the minimum and nobody would score 2.
	scores := evaluateNumerically("100", map[string]string{
		"close": "90",
		"troll": "nan",
	})

	want := map[string]int{"close": 2, "troll": 0}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}

	// A "nan" correct answer is unknown, not a number everyone missed.
	scores = evaluateNumerically("nan", map[string]string{"a": "5"})
	if scores["a"] != 0 {
		t.Fatalf("scores = %v, want all zero", scores)
	}
}

func TestEvaluateUnknownCorrectAnswer(t *testing.T) {
	scores := evaluateNumerically("Джек Воробей", map[string]string{
		"a": "Джек Воробей",
		"b": "42",
	})

	for id, s := range scores {
		if s != 0 {
			t.Errorf("non-numeric correct answer must score 0 for everyone, got %d for %s", s, id)
		}
	}
}

func TestEvaluateNoParsableAnswers(t *testing.T) {
	scores := evaluateNumerically("42", map[string]string{
		"a": "не знаю",
		"b": "",
	})

	want := map[string]int{"a": 0, "b": 0}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	answers := map[string]string{"a": "90", "b": "110", "c": "100"}

	first := evaluateNumerically("100", answers)
	for i := 0; i < 10; i++ {
		if again := evaluateNumerically("100", answers); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d differed: %v vs %v", i, again, first)
		}
	}
}

func TestEvaluatePercentAndMagnitude(t *testing.T) {
	scores := evaluateNumerically("8 миллиардов", map[string]string{
		"word":   "8 миллиардов",
		"letter": "8b",
		"digits": "8000000000",
		"close":  "7 миллиардов",
	})

	for _, id := range []string{"word", "letter", "digits"} {
		if scores[id] != 3 {
			t.Errorf("%s should be exact, got %v", id, scores)
		}
	}
	if scores["close"] != 0 {
		t.Errorf("exact hits should suppress the closest tier, got %v", scores)
	}
}
