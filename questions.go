package main

import (
	"bytes"
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

//go:embed questions/default.csv
var defaultQuestions embed.FS

// Question is a single immutable trivia record. The bank is loaded once at
// startup and only read afterwards.
type Question struct {
	ID         string
	Theme      string
	AnswerType string
	Text       string
	Answer     string
	AIEligible bool
}

// QuestionBank holds the ordered question list plus the derived sets of
// available themes and answer types, both sorted for stable display.
type QuestionBank struct {
	questions   []Question
	themes      []string
	answerTypes []string
}

func loadQuestions(cfg *Config) (*QuestionBank, error) {
	var data []byte
	var err error

	if cfg.questions != "" {
		data, err = os.ReadFile(cfg.questions)
		if err != nil {
			return nil, fmt.Errorf("read question file: %w", err)
		}
	} else {
		data, err = defaultQuestions.ReadFile("questions/default.csv")
		if err != nil {
			return nil, fmt.Errorf("read embedded questions: %w", err)
		}
	}

	return parseQuestions(cfg, data)
}

func parseQuestions(cfg *Config, data []byte) (*QuestionBank, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 6

	// Skip the header row.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read question header: %w", err)
	}

	bank := &QuestionBank{}
	themes := make(map[string]bool)
	answerTypes := make(map[string]bool)
	seen := make(map[string]bool)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logf(cfg, "QUESTIONS: Skipping malformed line %d: %v", line, err)
			continue
		}

		q := Question{
			ID:         strings.TrimSpace(record[0]),
			Theme:      strings.TrimSpace(record[1]),
			AnswerType: strings.TrimSpace(record[2]),
			Text:       strings.TrimSpace(record[3]),
			Answer:     strings.TrimSpace(record[4]),
			AIEligible: parseFlag(record[5]),
		}

		if q.ID == "" || q.Theme == "" || q.AnswerType == "" || q.Text == "" || q.Answer == "" {
			logf(cfg, "QUESTIONS: Skipping incomplete line %d", line)
			continue
		}
		if seen[q.ID] {
			logf(cfg, "QUESTIONS: Skipping duplicate id %q on line %d", q.ID, line)
			continue
		}
		seen[q.ID] = true

		bank.questions = append(bank.questions, q)
		themes[q.Theme] = true
		answerTypes[q.AnswerType] = true
	}

	if len(bank.questions) == 0 {
		return nil, fmt.Errorf("no usable questions found")
	}

	for theme := range themes {
		bank.themes = append(bank.themes, theme)
	}
	sort.Strings(bank.themes)

	for answerType := range answerTypes {
		bank.answerTypes = append(bank.answerTypes, answerType)
	}
	sort.Strings(bank.answerTypes)

	return bank, nil
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "да":
		return true
	}
	return false
}

// Matching returns the questions allowed by the theme and answer type
// filters. An empty filter set means no restriction.
func (b *QuestionBank) Matching(themes, answerTypes map[string]bool) []Question {
	out := make([]Question, 0, len(b.questions))
	for _, q := range b.questions {
		if len(themes) > 0 && !themes[q.Theme] {
			continue
		}
		if len(answerTypes) > 0 && !answerTypes[q.AnswerType] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Eligible returns the matching questions that have not yet been used in the
// current game.
func (b *QuestionBank) Eligible(themes, answerTypes map[string]bool, used map[string]bool) []Question {
	matching := b.Matching(themes, answerTypes)
	out := make([]Question, 0, len(matching))
	for _, q := range matching {
		if used[q.ID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (b *QuestionBank) Themes() []string {
	return b.themes
}

func (b *QuestionBank) AnswerTypes() []string {
	return b.answerTypes
}
