package main

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Notifier is the outbound port for "state changed" events. The websocket
// hub implements it; the orchestrator never touches transport primitives.
type Notifier interface {
	StateChanged()
}

// Game drives the lobby → playing → round_end → (playing | game_over) state
// machine around the single GameSession. All mutations are serialized behind
// one mutex; evaluation, persistence flushes and the inter-round timer run
// in goroutines that re-take the mutex and re-validate the phase and epoch
// before touching anything.
type Game struct {
	mu      sync.Mutex
	cfg     *Config
	bank    *QuestionBank
	stats   *StatsCache
	judge   *Judge
	notify  Notifier
	session *GameSession

	// epoch increments on every phase-changing transition. Async work
	// captures it when scheduled and aborts if it no longer matches.
	epoch int
}

func NewGame(cfg *Config, bank *QuestionBank, stats *StatsCache, judge *Judge) *Game {
	g := &Game{
		cfg:   cfg,
		bank:  bank,
		stats: stats,
		judge: judge,
	}
	g.session = newGameSession(defaultSettings(cfg, judge.IsAvailable()))
	g.session.Matching = len(bank.Matching(g.session.Settings.Themes, g.session.Settings.AnswerTypes))
	return g
}

func (g *Game) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = n
}

func (g *Game) stateChangedLocked() {
	if g.notify != nil {
		g.notify.StateChanged()
	}
}

var (
	errAlreadyStarted = errors.New("Игра уже идёт.")
	errNoQuestions    = errors.New("Под выбранные фильтры не нашлось ни одного вопроса.")
	errNotPlaying     = errors.New("Сейчас нельзя отвечать.")
	errAlreadyAnswer  = errors.New("Вы уже ответили в этом раунде.")
	errEmptyAnswer    = errors.New("Ответ не может быть пустым.")
	errResetDenied    = errors.New("Сбросить игру может только ведущий.")
)

// Start begins a new game. Host only, lobby only, and the current filters
// must match at least one question.
func (g *Game) Start(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if _, ok := s.Players[id]; !ok {
		return errUnknownPlayer
	}
	if id != s.HostID {
		return errNotHost
	}
	if s.Phase != PhaseLobby {
		return errAlreadyStarted
	}
	if len(s.Players) < 1 {
		return errUnknownPlayer
	}

	s.Matching = len(g.bank.Matching(s.Settings.Themes, s.Settings.AnswerTypes))
	if s.Matching < 1 {
		return errNoQuestions
	}

	for _, p := range s.Players {
		p.Score = 0
		p.Answer = ""
		p.Answered = false
		p.LastScore = nil
	}
	s.History = nil
	s.LastRound = nil
	s.GameOver = nil
	s.Current = nil

	for _, p := range s.Players {
		g.stats.GetOrCreate(p.ID, p.Name, p.Avatar)
		g.stats.AddGame(p.ID)
	}

	logf(g.cfg, "GAME: Started with %d players, %d matching questions", len(s.Players), s.Matching)

	g.nextRoundLocked()
	return nil
}

// nextRoundLocked picks a uniformly random question among those matching the
// filters and not yet used this game, or ends the game when none remain.
func (g *Game) nextRoundLocked() {
	s := g.session

	s.Matching = len(g.bank.Matching(s.Settings.Themes, s.Settings.AnswerTypes))

	used := make(map[string]bool, len(s.History))
	for _, id := range s.History {
		used[id] = true
	}

	eligible := g.bank.Eligible(s.Settings.Themes, s.Settings.AnswerTypes, used)
	if len(eligible) == 0 {
		if len(s.History) == 0 {
			g.endGameLocked("Под выбранные фильтры не нашлось ни одного вопроса.")
		} else {
			g.endGameLocked("Уникальные вопросы закончились.")
		}
		return
	}

	q := eligible[rand.Intn(len(eligible))]
	s.History = append(s.History, q.ID)
	s.Current = &q

	for _, p := range s.Players {
		p.Answer = ""
		p.Answered = false
		p.LastScore = nil
	}

	s.Phase = PhasePlaying
	g.epoch++

	logf(g.cfg, "GAME: Round %d, question %s (%s)", len(s.History), q.ID, q.Theme)
	g.stateChangedLocked()
}

// SubmitAnswer records one player's answer for the current round. The text
// is trimmed and capped at 200 characters.
func (g *Game) SubmitAnswer(id, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if s.Phase != PhasePlaying || s.Current == nil {
		return errNotPlaying
	}

	p, ok := s.Players[id]
	if !ok {
		return errUnknownPlayer
	}
	if p.Answered {
		return errAlreadyAnswer
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptyAnswer
	}
	if runes := []rune(text); len(runes) > maxAnswerLength {
		text = string(runes[:maxAnswerLength])
	}

	p.Answer = text
	p.Answered = true

	g.stateChangedLocked()
	g.checkRoundCompleteLocked()
	return nil
}

// checkRoundCompleteLocked moves the round to evaluation once every present
// player has answered. The playing → round_end transition happens exactly
// once per round, so only one evaluation can ever be in flight.
func (g *Game) checkRoundCompleteLocked() {
	s := g.session
	if s.Phase != PhasePlaying {
		return
	}

	if len(s.Players) == 0 {
		g.endGameLocked("Все игроки покинули игру.")
		return
	}

	for _, p := range s.Players {
		if !p.Answered {
			return
		}
	}

	if s.Current == nil {
		logf(g.cfg, "GAME: Round complete without an active question, ending game")
		g.checkEndGameOrNextRoundLocked()
		return
	}

	s.Phase = PhaseRoundEnd
	g.epoch++
	epoch := g.epoch

	question := *s.Current
	snapshot := make([]judgedPlayer, 0, len(s.Players))
	for _, p := range g.rosterLocked() {
		snapshot = append(snapshot, judgedPlayer{
			ID:       p.ID,
			Name:     p.Name,
			Answer:   p.Answer,
			Answered: p.Answered,
		})
	}

	policy := s.Settings.AIPolicy
	useAI := g.judge.IsAvailable() &&
		(policy == policyAlways || (policy == policyTextOnly && question.AIEligible))

	g.stateChangedLocked()

	go g.evaluateRound(epoch, question, snapshot, useAI)
}

// evaluateRound runs outside the mutex (the judge may spend seconds on the
// wire), then re-locks and applies the verdict if the round is still the one
// it was scheduled for.
func (g *Game) evaluateRound(epoch int, question Question, players []judgedPlayer, useAI bool) {
	verdict := func() (v Verdict) {
		defer func() {
			if r := recover(); r != nil {
				logf(g.cfg, "EVAL: Evaluator panicked: %v", r)
				v = Verdict{
					Scores:     map[string]int{},
					Commentary: "Оценка раунда не удалась из-за внутренней ошибки.",
				}
			}
		}()

		if useAI {
			return g.judge.evaluateRoundWithTimeout(question, players)
		}
		return Verdict{Scores: g.judge.fallbackScores(question, players)}
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if g.epoch != epoch || s.Phase != PhaseRoundEnd {
		logf(g.cfg, "EVAL: Discarding stale verdict for question %s", question.ID)
		return
	}

	for _, p := range g.rosterLocked() {
		score := verdict.Scores[p.ID]
		p.Score += score
		last := score
		p.LastScore = &last

		g.stats.GetOrCreate(p.ID, p.Name, p.Avatar)
		g.stats.RecordRound(p.ID, score)
	}

	s.LastRound = g.buildRoundResultLocked(question, verdict, useAI)

	g.checkEndGameOrNextRoundLocked()
}

func (g *Game) buildRoundResultLocked(question Question, verdict Verdict, useAI bool) *RoundResult {
	roster := g.rosterLocked()

	top := 0
	for _, p := range roster {
		if p.LastScore != nil && *p.LastScore > top {
			top = *p.LastScore
		}
	}

	var topNames []string
	for _, p := range roster {
		if top > 0 && p.LastScore != nil && *p.LastScore == top {
			topNames = append(topNames, p.Name)
		}
	}

	var headline string
	switch {
	case top == scoreExact:
		headline = fmt.Sprintf("Точный ответ: %s!", joinNames(topNames))
	case top == scoreClosest:
		headline = fmt.Sprintf("Ближе всех: %s!", joinNames(topNames))
	default:
		headline = "Никто не заработал очков."
	}

	result := &RoundResult{
		Question: question.Text,
		Answer:   question.Answer,
		Headline: headline,
	}
	if useAI {
		result.Commentary = verdict.Commentary
	}

	for _, p := range roster {
		points := 0
		if p.LastScore != nil {
			points = *p.LastScore
		}
		result.Lines = append(result.Lines, RoundLine{
			Name:   p.Name,
			Answer: p.Answer,
			Points: points,
		})
	}

	return result
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " и " + names[len(names)-1]
	}
}

// checkEndGameOrNextRoundLocked applies the win conditions: someone reached
// the target score, or the filters have no unique questions left. Otherwise
// the next round is scheduled after the configured delay; the timer callback
// re-validates phase and epoch so a reset or disconnect-triggered end during
// the pause wins.
func (g *Game) checkEndGameOrNextRoundLocked() {
	s := g.session
	if s.Phase == PhaseGameOver {
		return
	}

	target := s.Settings.TargetScore
	for _, p := range s.Players {
		if p.Score >= target {
			g.endGameLocked(fmt.Sprintf("Набрано %d очков.", target))
			return
		}
	}

	if s.Phase != PhaseLobby {
		used := make(map[string]bool, len(s.History))
		for _, id := range s.History {
			used[id] = true
		}
		if len(g.bank.Eligible(s.Settings.Themes, s.Settings.AnswerTypes, used)) == 0 {
			g.endGameLocked("Уникальные вопросы закончились.")
			return
		}
	}

	g.stateChangedLocked()

	epoch := g.epoch
	time.AfterFunc(g.cfg.roundDelay, func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.session.Phase != PhaseRoundEnd || g.epoch != epoch {
			return
		}
		g.nextRoundLocked()
	})
}

// endGameLocked finishes the game: idempotent, flushes the stats cache once,
// credits the unique winner if there is one.
func (g *Game) endGameLocked(reason string) {
	s := g.session
	if s.Phase == PhaseGameOver {
		return
	}

	s.Phase = PhaseGameOver
	g.epoch++

	final := make(map[string]int, len(s.Players))
	maxScore := 0
	for _, p := range s.Players {
		final[p.Name] = p.Score
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}

	var winners []*Player
	if maxScore > 0 {
		for _, p := range g.rosterLocked() {
			if p.Score == maxScore {
				winners = append(winners, p)
			}
		}
	}

	summary := &GameOverSummary{
		Reason:      reason,
		FinalScores: final,
	}

	switch {
	case len(s.Players) == 0:
		summary.Message = "Игроков не осталось."
	case len(winners) == 1:
		summary.Winner = winners[0].Name
		summary.Message = fmt.Sprintf("Победа: %s!", winners[0].Name)
		g.stats.AddWin(winners[0].ID)
	case len(winners) > 1:
		names := make([]string, 0, len(winners))
		for _, p := range winners {
			names = append(names, p.Name)
		}
		summary.Message = fmt.Sprintf("Ничья: %s!", joinNames(names))
	default:
		summary.Message = "Победителя нет."
	}

	s.GameOver = summary

	logf(g.cfg, "GAME: Over after %d rounds: %s %s", len(s.History), summary.Message, reason)

	go g.stats.Save(g.cfg)

	g.stateChangedLocked()
}

// RequestReset returns the game to a fresh lobby. Allowed for the current
// host at any time, and for anyone once the game is over. Filter settings
// survive; the prior host is re-admitted from their persistent record.
func (g *Game) RequestReset(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session
	if id != s.HostID && s.Phase != PhaseGameOver {
		return errResetDenied
	}

	g.resetLocked(s.HostID)
	return nil
}

func (g *Game) resetLocked(prevHostID string) {
	settings := g.session.Settings

	g.session = newGameSession(settings)
	g.session.Matching = len(g.bank.Matching(settings.Themes, settings.AnswerTypes))
	g.epoch++

	if prevHostID != "" {
		if rec, ok := g.stats.Get(prevHostID); ok {
			g.forceJoinLocked(prevHostID, rec)
			g.session.HostID = prevHostID
		}
	}

	logf(g.cfg, "GAME: Reset to lobby")
	g.stateChangedLocked()
}

// Shutdown flushes the persistent player records. Called when the server is
// stopping.
func (g *Game) Shutdown() {
	g.stats.Save(g.cfg)
}
