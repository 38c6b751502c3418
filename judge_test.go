package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func judgeConfig(t *testing.T, url string) *Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.apiKey = "test-key"
	cfg.apiURL = url
	cfg.apiModel = "test-model"
	cfg.apiTimeout = 2 * time.Second
	return cfg
}

func chatReply(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{"content": content},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

var testQuestion = Question{
	ID:         "1",
	Theme:      "Кино",
	AnswerType: "Текст",
	Text:       "Кто капитан «Чёрной жемчужины»?",
	Answer:     "Джек Воробей",
	AIEligible: true,
}

func TestJudgeUnavailableFallsBack(t *testing.T) {
	judge := newJudge(testConfig(t)) // no api key

	players := []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "100", Answered: true},
		{ID: "b", Name: "Боб", Answer: "90", Answered: true},
	}
	question := Question{Answer: "100"}

	verdict := judge.Evaluate(context.Background(), question, players)

	want := evaluateNumerically("100", map[string]string{"a": "100", "b": "90"})
	if !reflect.DeepEqual(verdict.Scores, want) {
		t.Errorf("scores = %v, want numeric fallback %v", verdict.Scores, want)
	}
	if verdict.Commentary != commentaryUnavailable {
		t.Errorf("commentary = %q", verdict.Commentary)
	}
}

func TestJudgeNoEligiblePlayers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	verdict := judge.Evaluate(context.Background(), testQuestion, []judgedPlayer{
		{ID: "a", Name: ""}, // no name, not judgeable
	})

	if len(verdict.Scores) != 0 {
		t.Errorf("scores = %v, want empty", verdict.Scores)
	}
	if verdict.Commentary != commentaryNoPlayers {
		t.Errorf("commentary = %q", verdict.Commentary)
	}
	if calls.Load() != 0 {
		t.Error("model should not be called without eligible players")
	}
}

func TestJudgeValidatesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, `{"scores":{"a":3,"b":5,"c":2.5},"commentary":"  Молодцы!  "}`))
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	players := []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "Джек Воробей", Answered: true},
		{ID: "b", Name: "Боб", Answer: "Барбосса", Answered: true},
		{ID: "c", Name: "Вера", Answer: "Немо", Answered: true},
		{ID: "d", Name: "Глеб"},
	}

	verdict := judge.Evaluate(context.Background(), testQuestion, players)

	// 5 and 2.5 are outside {0,2,3}; d was never mentioned. All coerce
	// to an explicit 0.
	want := map[string]int{"a": 3, "b": 0, "c": 0, "d": 0}
	if !reflect.DeepEqual(verdict.Scores, want) {
		t.Errorf("scores = %v, want %v", verdict.Scores, want)
	}
	if verdict.Commentary != "Молодцы!" {
		t.Errorf("commentary = %q, want trimmed", verdict.Commentary)
	}
}

func TestJudgeStripsCodeFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, "```json\n{\"scores\":{\"a\":3},\"commentary\":\"ok\"}\n```"))
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	verdict := judge.Evaluate(context.Background(), testQuestion, []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "Джек Воробей", Answered: true},
	})

	if verdict.Scores["a"] != 3 {
		t.Errorf("scores = %v", verdict.Scores)
	}
}

func TestJudgeMissingCommentary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, `{"scores":{"a":0}}`))
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	verdict := judge.Evaluate(context.Background(), testQuestion, []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "кто-то", Answered: true},
	})

	if verdict.Commentary != commentaryMissing {
		t.Errorf("commentary = %q, want placeholder", verdict.Commentary)
	}
}

func TestJudgeServerErrorFallsBackToNumeric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	players := []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "100", Answered: true},
		{ID: "b", Name: "Боб", Answer: "110", Answered: true},
	}
	question := Question{ID: "9", Answer: "100", Text: "?", AnswerType: "Число"}

	verdict := judge.Evaluate(context.Background(), question, players)

	want := evaluateNumerically("100", map[string]string{"a": "100", "b": "110"})
	if !reflect.DeepEqual(verdict.Scores, want) {
		t.Errorf("scores = %v, want numeric fallback %v", verdict.Scores, want)
	}
	if !strings.Contains(verdict.Commentary, "не ответил") {
		t.Errorf("commentary = %q, want failure note", verdict.Commentary)
	}
}

func TestJudgeMalformedContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, "definitely not json"))
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	players := []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "50", Answered: true},
	}
	question := Question{ID: "9", Answer: "100"}

	verdict := judge.Evaluate(context.Background(), question, players)

	want := evaluateNumerically("100", map[string]string{"a": "50"})
	if !reflect.DeepEqual(verdict.Scores, want) {
		t.Errorf("scores = %v, want numeric fallback %v", verdict.Scores, want)
	}
}

func TestJudgeRequestShape(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request is not valid JSON: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Write(chatReply(t, `{"scores":{"a":0,"b":0},"commentary":"ok"}`))
	}))
	defer srv.Close()

	judge := newJudge(judgeConfig(t, srv.URL))

	judge.Evaluate(context.Background(), testQuestion, []judgedPlayer{
		{ID: "a", Name: "Алиса", Answer: "Барбосса", Answered: true},
		{ID: "b", Name: "Боб"},
	})

	if captured.Model != "test-model" {
		t.Errorf("model = %q", captured.Model)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response format = %+v", captured.ResponseFormat)
	}

	prompt := captured.Messages[len(captured.Messages)-1].Content
	for _, fragment := range []string{
		testQuestion.Text,
		testQuestion.Answer,
		"Алиса",
		"Барбосса",
		"(нет ответа)",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("prompt missing %q", fragment)
		}
	}
}

func TestGameUsesJudgeWhenPolicyAlways(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(t, `{"scores":{"p1":3},"commentary":"Браво!"}`))
	}))
	defer srv.Close()

	cfg := judgeConfig(t, srv.URL)
	cfg.targetScore = 100
	cfg.roundDelay = time.Hour

	bank, err := parseQuestions(cfg, []byte(oneQuestionCSV))
	if err != nil {
		t.Fatalf("parse questions: %v", err)
	}

	g := NewGame(cfg, bank, newStatsCache(cfg.dataFile), newJudge(cfg))
	mustJoin(t, g, "p1", "Алиса")

	always := policyAlways
	if err := g.ApplySettings("p1", SettingsUpdate{AIPolicy: &always}); err != nil {
		t.Fatalf("apply settings: %v", err)
	}
	if err := g.Start("p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := g.SubmitAnswer("p1", "что-то"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	waitForPhase(t, g, PhaseGameOver)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session.LastRound == nil {
		t.Fatal("round result missing")
	}
	if g.session.LastRound.Commentary != "Браво!" {
		t.Errorf("commentary = %q", g.session.LastRound.Commentary)
	}
	if g.session.Players["p1"].Score != 3 {
		t.Errorf("score = %d, want 3", g.session.Players["p1"].Score)
	}
}
