package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Judge scores free-text answers with an OpenAI-compatible chat completions
// API and writes a short commentary on the round. Every failure path falls
// back to evaluateNumerically, so a broken or absent model can never stall a
// round.
type Judge struct {
	httpClient *http.Client
	cfg        *Config
	apiKey     string
	apiURL     string
	model      string
}

func newJudge(cfg *Config) *Judge {
	return &Judge{
		httpClient: &http.Client{Timeout: cfg.apiTimeout},
		cfg:        cfg,
		apiKey:     cfg.apiKey,
		apiURL:     strings.TrimSuffix(cfg.apiURL, "/"),
		model:      cfg.apiModel,
	}
}

func (j *Judge) IsAvailable() bool {
	return j != nil && j.apiKey != ""
}

// judgedPlayer is the snapshot of a player handed to an evaluator. Answered
// distinguishes an empty answer from no answer at all.
type judgedPlayer struct {
	ID       string
	Name     string
	Answer   string
	Answered bool
}

// Verdict is the result of evaluating one round: a score in {0,2,3} per
// player id, plus the judge's narrative commentary.
type Verdict struct {
	Scores     map[string]int
	Commentary string
}

const (
	commentaryUnavailable = "ИИ-судья недоступен, ответы оценены по числовой близости."
	commentaryNoPlayers   = "Некого оценивать: ни одного ответившего игрока."
	commentaryMissing     = "Судья не оставил комментария."
)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"` // "json_schema"
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type verdictPayload struct {
	Scores     map[string]float64 `json:"scores"`
	Commentary any                `json:"commentary"`
}

const judgeSystemPrompt = `Ты — остроумный ведущий викторины «Кто поближе?». Игроки отвечают на вопрос свободным текстом. Оцени каждый ответ строго одним из баллов:
- 3 — ответ верен или попадает в допустимый диапазон;
- 2 — ответ ближе всех к правильному среди неверных;
- 0 — все остальные случаи, включая отсутствие ответа.
Балл 2 получают все игроки, разделившие наилучшую близость. Верни JSON с полем "scores" (балл по идентификатору игрока) и полем "commentary" — короткий живой комментарий к раунду на русском языке. Никакого текста вне JSON.`

// Evaluate scores a round. The returned Verdict always contains an entry for
// every player passed in, whatever the model did or did not answer.
func (j *Judge) Evaluate(ctx context.Context, question Question, players []judgedPlayer) Verdict {
	if !j.IsAvailable() {
		return Verdict{
			Scores:     j.fallbackScores(question, players),
			Commentary: commentaryUnavailable,
		}
	}

	eligible := make([]judgedPlayer, 0, len(players))
	for _, p := range players {
		if p.ID != "" && p.Name != "" {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return Verdict{Scores: map[string]int{}, Commentary: commentaryNoPlayers}
	}

	payload, err := j.call(ctx, question, eligible)
	if err != nil {
		logf(j.cfg, "EVAL: Judge failed, falling back to numeric scoring: %v", err)
		return Verdict{
			Scores: j.fallbackScores(question, players),
			Commentary: fmt.Sprintf("ИИ-судья не ответил (%s), ответы оценены по числовой близости.",
				truncateError(err, 120)),
		}
	}

	scores := make(map[string]int, len(players))
	for _, p := range players {
		scores[p.ID] = scoreMiss
		v, ok := payload.Scores[p.ID]
		if !ok {
			continue
		}
		switch int(v) {
		case scoreClosest, scoreExact:
			if v == float64(int(v)) {
				scores[p.ID] = int(v)
			}
		}
	}

	commentary := commentaryMissing
	if s, ok := payload.Commentary.(string); ok && strings.TrimSpace(s) != "" {
		commentary = strings.TrimSpace(s)
	}

	return Verdict{Scores: scores, Commentary: commentary}
}

func (j *Judge) call(ctx context.Context, question Question, players []judgedPlayer) (*verdictPayload, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Вопрос: %s\n", question.Text)
	fmt.Fprintf(&prompt, "Правильный ответ: %s\n", question.Answer)
	fmt.Fprintf(&prompt, "Тип ответа: %s\n\n", question.AnswerType)
	prompt.WriteString("Ответы игроков:\n")
	for _, p := range players {
		answer := "(нет ответа)"
		if p.Answered {
			answer = p.Answer
		}
		fmt.Fprintf(&prompt, "- %s [id=%s]: %s\n", p.Name, p.ID, answer)
	}

	reqBody := chatRequest{
		Model: j.model,
		Messages: []chatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "round_verdict",
				Strict: true,
				Schema: verdictSchema(players),
			},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.apiURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateError(fmt.Errorf("%s", body), 200))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse API response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}

	content := cleanJSONContent(chatResp.Choices[0].Message.Content)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}

	return &payload, nil
}

// verdictSchema pins the response shape: one integer score from {0,2,3} per
// player id, plus a commentary string.
func verdictSchema(players []judgedPlayer) map[string]any {
	scoreProps := make(map[string]any, len(players))
	required := make([]string, 0, len(players))
	for _, p := range players {
		scoreProps[p.ID] = map[string]any{
			"type": "integer",
			"enum": []int{scoreMiss, scoreClosest, scoreExact},
		}
		required = append(required, p.ID)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type":                 "object",
				"properties":           scoreProps,
				"required":             required,
				"additionalProperties": false,
			},
			"commentary": map[string]any{
				"type": "string",
			},
		},
		"required":             []string{"scores", "commentary"},
		"additionalProperties": false,
	}
}

func (j *Judge) fallbackScores(question Question, players []judgedPlayer) map[string]int {
	answers := make(map[string]string, len(players))
	for _, p := range players {
		if p.Answered {
			answers[p.ID] = p.Answer
		} else {
			answers[p.ID] = ""
		}
	}
	return evaluateNumerically(question.Answer, answers)
}

func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	}
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

// evaluateRoundWithTimeout wraps Evaluate with an outer deadline so a hung
// transport can never hold a round open past the configured timeout.
func (j *Judge) evaluateRoundWithTimeout(question Question, players []judgedPlayer) Verdict {
	d := 60 * time.Second
	if j != nil && j.cfg != nil && j.cfg.apiTimeout > 0 {
		d = j.cfg.apiTimeout + 5*time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return j.Evaluate(ctx, question, players)
}
