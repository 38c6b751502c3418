package main

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"
)

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePlaying  Phase = "playing"
	PhaseRoundEnd Phase = "round_end"
	PhaseGameOver Phase = "game_over"
)

const (
	policyNever    = "never"
	policyTextOnly = "text_only"
	policyAlways   = "always"
)

const (
	maxNameLength   = 32
	maxAnswerLength = 200
	hardPlayerCap   = 32
	leaderboardSize = 10
)

// Player is the per-session state for one connected player. The avatar blob
// is opaque: it is stored and echoed back but never interpreted.
type Player struct {
	ID        string
	Name      string
	Avatar    json.RawMessage
	Score     int
	Answer    string
	Answered  bool
	LastScore *int
}

// Settings are host-controlled and survive a reset. Empty theme or answer
// type sets mean no restriction.
type Settings struct {
	Mode        string // only "score" for now
	TargetScore int
	AIPolicy    string
	Themes      map[string]bool
	AnswerTypes map[string]bool
	MaxPlayers  int
}

// SettingsUpdate carries a host's settings change; nil fields are left
// untouched.
type SettingsUpdate struct {
	TargetScore *int     `json:"target_score,omitempty"`
	AIPolicy    *string  `json:"ai_policy,omitempty"`
	MaxPlayers  *int     `json:"max_players,omitempty"`
	Themes      []string `json:"themes"`
	AnswerTypes []string `json:"answer_types"`
}

// GameSession is the single authoritative game record. Exactly one exists
// per process; all access goes through the Game methods.
type GameSession struct {
	Phase     Phase
	Players   map[string]*Player
	Order     []string // player ids in join order
	HostID    string
	Current   *Question
	History   []string // consumed question ids, append-only per game
	Settings  Settings
	LastRound *RoundResult
	GameOver  *GameOverSummary
	Matching  int // questions matching current filters
}

type RoundResult struct {
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	Headline   string      `json:"headline"`
	Commentary string      `json:"commentary,omitempty"`
	Lines      []RoundLine `json:"lines"`
}

type RoundLine struct {
	Name   string `json:"name"`
	Answer string `json:"answer"`
	Points int    `json:"points"`
}

type GameOverSummary struct {
	Reason      string         `json:"reason"`
	Message     string         `json:"message"`
	Winner      string         `json:"winner,omitempty"`
	FinalScores map[string]int `json:"final_scores"`
}

func defaultSettings(cfg *Config, judgeAvailable bool) Settings {
	policy := policyTextOnly
	if !judgeAvailable {
		policy = policyNever
	}
	return Settings{
		Mode:        "score",
		TargetScore: cfg.targetScore,
		AIPolicy:    policy,
		Themes:      make(map[string]bool),
		AnswerTypes: make(map[string]bool),
		MaxPlayers:  cfg.maxPlayers,
	}
}

func newGameSession(settings Settings) *GameSession {
	return &GameSession{
		Phase:    PhaseLobby,
		Players:  make(map[string]*Player),
		Settings: settings,
	}
}

var (
	errNotLobby      = errors.New("Присоединиться или менять настройки можно только в лобби.")
	errLobbyFull     = errors.New("Лобби заполнено.")
	errEmptyName     = errors.New("Имя не может быть пустым.")
	errLongName      = errors.New("Слишком длинное имя.")
	errNameTaken     = errors.New("Это имя уже занято.")
	errNotHost       = errors.New("Это может сделать только ведущий.")
	errUnknownPlayer = errors.New("Вы не участвуете в этой игре.")
	errBadPolicy     = errors.New("Неизвестный режим ИИ-судьи.")
)

// Join adds a player to the lobby, or lets an existing player refresh their
// name and avatar. The first joiner becomes host.
func (g *Game) Join(id, name string, avatar json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return errEmptyName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return errLongName
	}

	existing := g.session.Players[id]
	if existing == nil && g.session.Phase != PhaseLobby {
		return errNotLobby
	}
	if existing == nil && len(g.session.Players) >= g.session.Settings.MaxPlayers {
		return errLobbyFull
	}

	for otherID, other := range g.session.Players {
		if otherID == id {
			continue
		}
		if strings.EqualFold(other.Name, name) {
			return errNameTaken
		}
	}

	if existing != nil {
		existing.Name = name
		if len(avatar) > 0 {
			existing.Avatar = avatar
		}
	} else {
		g.session.Players[id] = &Player{ID: id, Name: name, Avatar: avatar}
		g.session.Order = append(g.session.Order, id)
		if g.session.HostID == "" {
			g.session.HostID = id
		}
		logf(g.cfg, "GAME: Player %q joined (%d/%d)", name, len(g.session.Players), g.session.Settings.MaxPlayers)
	}

	g.stats.GetOrCreate(id, name, avatar)
	g.stateChangedLocked()
	return nil
}

// forceJoinLocked re-admits a player from their persistent record, used when
// a reset restores the previous host.
func (g *Game) forceJoinLocked(id string, rec PlayerStats) {
	if _, ok := g.session.Players[id]; ok {
		return
	}
	g.session.Players[id] = &Player{ID: id, Name: rec.Name, Avatar: rec.Avatar}
	g.session.Order = append(g.session.Order, id)
}

// Leave removes a player. The host role moves to an arbitrary remaining
// player; an emptied active game ends, an emptied lobby or game-over screen
// resets.
func (g *Game) Leave(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	player, ok := g.session.Players[id]
	if !ok {
		return
	}

	delete(g.session.Players, id)
	for i, other := range g.session.Order {
		if other == id {
			g.session.Order = append(g.session.Order[:i], g.session.Order[i+1:]...)
			break
		}
	}
	logf(g.cfg, "GAME: Player %q left", player.Name)

	if g.session.HostID == id {
		g.session.HostID = ""
		if len(g.session.Order) > 0 {
			g.session.HostID = g.session.Order[0]
		}
	}

	switch g.session.Phase {
	case PhasePlaying, PhaseRoundEnd:
		if len(g.session.Players) == 0 {
			g.endGameLocked("Все игроки покинули игру.")
			// Nobody is left to look at the game-over screen.
			g.resetLocked("")
			return
		}
		if g.session.Phase == PhasePlaying {
			g.checkRoundCompleteLocked()
		}
	case PhaseLobby, PhaseGameOver:
		if len(g.session.Players) == 0 {
			g.resetLocked("")
			return
		}
	}

	g.stateChangedLocked()
}

// ApplySettings validates and clamps a host's settings change. Only allowed
// in the lobby.
func (g *Game) ApplySettings(id string, upd SettingsUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.session.Players[id]; !ok {
		return errUnknownPlayer
	}
	if id != g.session.HostID {
		return errNotHost
	}
	if g.session.Phase != PhaseLobby {
		return errNotLobby
	}

	s := &g.session.Settings

	if upd.TargetScore != nil {
		s.TargetScore = clamp(*upd.TargetScore, 1, 100)
	}

	if upd.MaxPlayers != nil {
		floor := len(g.session.Players)
		if floor < 1 {
			floor = 1
		}
		s.MaxPlayers = clamp(*upd.MaxPlayers, floor, hardPlayerCap)
	}

	if upd.AIPolicy != nil {
		switch *upd.AIPolicy {
		case policyNever, policyTextOnly, policyAlways:
			s.AIPolicy = *upd.AIPolicy
		default:
			return errBadPolicy
		}
	}
	if !g.judge.IsAvailable() {
		s.AIPolicy = policyNever
	}

	if upd.Themes != nil {
		s.Themes = intersectKnown(upd.Themes, g.bank.Themes())
	}
	if upd.AnswerTypes != nil {
		s.AnswerTypes = intersectKnown(upd.AnswerTypes, g.bank.AnswerTypes())
	}

	g.session.Matching = len(g.bank.Matching(s.Themes, s.AnswerTypes))
	g.stateChangedLocked()
	return nil
}

// intersectKnown keeps only values present in the known set. Selecting every
// known value collapses to the empty set, meaning "no restriction".
func intersectKnown(selected, known []string) map[string]bool {
	knownSet := make(map[string]bool, len(known))
	for _, v := range known {
		knownSet[v] = true
	}

	out := make(map[string]bool)
	for _, v := range selected {
		if knownSet[v] {
			out[v] = true
		}
	}
	if len(out) == len(known) {
		return make(map[string]bool)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rosterLocked returns the players in join order.
func (g *Game) rosterLocked() []*Player {
	out := make([]*Player, 0, len(g.session.Order))
	for _, id := range g.session.Order {
		if p, ok := g.session.Players[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// StateView is the sanitized, viewer-specific snapshot broadcast to clients.
type StateView struct {
	Type          string             `json:"type"` // "state"
	Phase         Phase              `json:"phase"`
	You           string             `json:"you,omitempty"`
	IsHost        bool               `json:"is_host"`
	Players       []PlayerView       `json:"players"`
	Question      *QuestionView      `json:"question,omitempty"`
	Settings      SettingsView       `json:"settings"`
	QuestionsUsed int                `json:"questions_used"`
	Matching      int                `json:"questions_matching"`
	LastRound     *RoundResult       `json:"last_round,omitempty"`
	GameOver      *GameOverSummary   `json:"game_over,omitempty"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	Themes        []string           `json:"themes"`
	AnswerTypes   []string           `json:"answer_types"`
}

type PlayerView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	Score       int             `json:"score"`
	Answered    bool            `json:"answered"`
	LastScore   *int            `json:"last_score,omitempty"`
	IsHost      bool            `json:"is_host"`
	IsYou       bool            `json:"is_you"`
	TotalScore  int             `json:"total_score"`
	Wins        int             `json:"wins"`
	GamesPlayed int             `json:"games_played"`
}

type QuestionView struct {
	Theme      string `json:"theme"`
	AnswerType string `json:"answer_type"`
	Text       string `json:"text"`
	Answer     string `json:"answer,omitempty"` // redacted while playing
}

type SettingsView struct {
	TargetScore int      `json:"target_score"`
	AIPolicy    string   `json:"ai_policy"`
	MaxPlayers  int      `json:"max_players"`
	Themes      []string `json:"themes"`
	AnswerTypes []string `json:"answer_types"`
}

// ViewFor builds the state snapshot one viewer is allowed to see. The
// correct answer is withheld while the question is still being played, and
// the question history is collapsed to a count.
func (g *Game) ViewFor(viewerID string) StateView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewForLocked(viewerID)
}

func (g *Game) viewForLocked(viewerID string) StateView {
	session := g.session

	view := StateView{
		Type:          "state",
		Phase:         session.Phase,
		IsHost:        viewerID != "" && viewerID == session.HostID,
		QuestionsUsed: len(session.History),
		Matching:      session.Matching,
		LastRound:     session.LastRound,
		GameOver:      session.GameOver,
		Leaderboard:   g.stats.Leaderboard(leaderboardSize),
		Themes:        g.bank.Themes(),
		AnswerTypes:   g.bank.AnswerTypes(),
		Settings: SettingsView{
			TargetScore: session.Settings.TargetScore,
			AIPolicy:    session.Settings.AIPolicy,
			MaxPlayers:  session.Settings.MaxPlayers,
			Themes:      setToSorted(session.Settings.Themes),
			AnswerTypes: setToSorted(session.Settings.AnswerTypes),
		},
	}

	if _, ok := session.Players[viewerID]; ok {
		view.You = viewerID
	}

	for _, p := range g.rosterLocked() {
		pv := PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Score:     p.Score,
			Answered:  p.Answered,
			LastScore: p.LastScore,
			IsHost:    p.ID == session.HostID,
			IsYou:     p.ID == viewerID,
		}
		if rec, ok := g.stats.Get(p.ID); ok {
			pv.TotalScore = rec.TotalScore
			pv.Wins = rec.Wins
			pv.GamesPlayed = rec.GamesPlayed
		}
		view.Players = append(view.Players, pv)
	}

	if session.Current != nil {
		qv := &QuestionView{
			Theme:      session.Current.Theme,
			AnswerType: session.Current.AnswerType,
			Text:       session.Current.Text,
		}
		if session.Phase != PhasePlaying {
			qv.Answer = session.Current.Answer
		}
		view.Question = qv
	}

	return view
}

func setToSorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
