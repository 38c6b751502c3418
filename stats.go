package main

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
)

// PlayerStats is the cross-game record for one player id. It survives game
// resets and is flushed to disk only at game end and shutdown, never on
// individual mutations.
type PlayerStats struct {
	Name        string          `json:"name"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	TotalScore  int             `json:"total_score"`
	GamesPlayed int             `json:"games_played"`
	Wins        int             `json:"wins"`
	Histogram   map[int]int     `json:"histogram,omitempty"` // round score -> occurrences
}

type LeaderboardEntry struct {
	Name       string `json:"name"`
	TotalScore int    `json:"total_score"`
	Wins       int    `json:"wins"`
}

// StatsCache keeps all persistent records in memory, backed by a best-effort
// JSON file. Load and Save never fail the caller; a missing or corrupt file
// just means starting from an empty map.
type StatsCache struct {
	mu      sync.Mutex
	path    string
	records map[string]*PlayerStats
	order   []string // ids in first-seen order, for stable leaderboard ties
}

func newStatsCache(path string) *StatsCache {
	return &StatsCache{
		path:    path,
		records: make(map[string]*PlayerStats),
	}
}

func (s *StatsCache) Load(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logf(cfg, "STATS: Could not read %s, starting empty: %v", s.path, err)
		}
		return
	}

	records := make(map[string]*PlayerStats)
	if err := json.Unmarshal(data, &records); err != nil {
		logf(cfg, "STATS: Could not parse %s, starting empty: %v", s.path, err)
		return
	}

	s.records = records
	s.order = s.order[:0]
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.order = ids

	logf(cfg, "STATS: Loaded %d player records from %s", len(records), s.path)
}

func (s *StatsCache) Save(cfg *Config) {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.mu.Unlock()

	if err != nil {
		logf(cfg, "STATS: Could not serialize player records: %v", err)
		return
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		logf(cfg, "STATS: Could not write %s: %v", s.path, err)
		return
	}

	logf(cfg, "STATS: Flushed player records to %s", s.path)
}

// GetOrCreate returns the record for a player id, creating it on first use
// and refreshing name and avatar when they have changed.
func (s *StatsCache) GetOrCreate(id, name string, avatar json.RawMessage) *PlayerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = &PlayerStats{Histogram: make(map[int]int)}
		s.records[id] = rec
		s.order = append(s.order, id)
	}
	if name != "" {
		rec.Name = name
	}
	if len(avatar) > 0 {
		rec.Avatar = avatar
	}
	if rec.Histogram == nil {
		rec.Histogram = make(map[int]int)
	}
	return rec
}

func (s *StatsCache) Get(id string) (PlayerStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return PlayerStats{}, false
	}
	return *rec, true
}

func (s *StatsCache) AddGame(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		rec.GamesPlayed++
	}
}

func (s *StatsCache) AddWin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		rec.Wins++
	}
}

// RecordRound adds a round outcome: the score joins the player's cumulative
// total and bumps the histogram bucket for that score value.
func (s *StatsCache) RecordRound(id string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.TotalScore += score
	if rec.Histogram == nil {
		rec.Histogram = make(map[int]int)
	}
	rec.Histogram[score]++
}

// Leaderboard returns up to limit records sorted by total score descending.
// Ties keep first-seen order.
func (s *StatsCache) Leaderboard(limit int) []LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]LeaderboardEntry, 0, len(s.order))
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Name:       rec.Name,
			TotalScore: rec.TotalScore,
			Wins:       rec.Wins,
		})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].TotalScore > entries[b].TotalScore
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
