package question

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/quizerr"
)

const generatePrompt = `You are a quiz master creating multiple-choice questions for a multiplayer quiz game.

Topic: %s
Difficulty: %s

Create a SHORT, CLEAR multiple-choice question that:
- Has exactly 4 answer options
- Has ONE clearly correct answer
- Has 3 plausible but incorrect distractors

Put the CORRECT answer as the FIRST option in the array; the server shuffles
options after generation. Do NOT include letter prefixes in the option text.

Return ONLY valid JSON in this exact format:
{"question": "...", "options": ["correct", "wrong", "wrong", "wrong"]}

Do NOT include any markdown, code blocks, or extra text.`

const gradePrompt = `You are a friendly quiz teacher. I will give you a question and a player's answer.
Q: %q
A: %q

Score the answer: 10 = fully correct; 8-9 = mostly correct; 6-7 = partly
correct; 4-5 = major gaps; 0-3 = mostly wrong. Ignore casing and punctuation.

Output format: {"score": "X/10"}
Do NOT wrap the JSON in markers.`

var difficultyLabels = map[int]string{1: "easy", 2: "intermediate", 3: "advanced"}

// AIClient generates and grades questions through the OpenAI chat API.
type AIClient struct {
	client openai.Client
	model  string
}

// NewAIClient builds a client for the given key and model.
func NewAIClient(apiKey, model string) *AIClient {
	return &AIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Next implements Provider.
func (a *AIClient) Next(ctx context.Context, req Request) (Question, error) {
	label := difficultyLabels[req.Difficulty]
	if label == "" {
		label = "intermediate"
	}
	prompt := fmt.Sprintf(generatePrompt, req.Category, label)

	raw, err := a.complete(ctx, prompt, 0.7, 300)
	if err != nil {
		return Question{}, quizerr.Upstream(err, "generate question")
	}

	var parsed struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Question{}, quizerr.Upstream(err, "malformed question payload")
	}
	if parsed.Question == "" || len(parsed.Options) < 2 {
		return Question{}, quizerr.Upstream(nil, "incomplete question payload")
	}

	correct := parsed.Options[0]
	shuffled := append([]string(nil), parsed.Options...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return Question{
		Text:          parsed.Question,
		Options:       shuffled,
		CorrectAnswer: correct,
		Difficulty:    req.Difficulty,
		Category:      req.Category,
		Source:        SourceAI,
	}, nil
}

// Grade implements Evaluator for free-text answers.
func (a *AIClient) Grade(ctx context.Context, q Question, answer string) (int, error) {
	raw, err := a.complete(ctx, fmt.Sprintf(gradePrompt, q.Text, answer), 0.5, 100)
	if err != nil {
		return 0, quizerr.Upstream(err, "grade answer")
	}

	var parsed struct {
		Score string `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, quizerr.Upstream(err, "malformed grade payload")
	}
	score, err := strconv.Atoi(strings.TrimSuffix(parsed.Score, "/10"))
	if err != nil || score < 0 || score > 10 {
		return 0, quizerr.Upstream(err, "grade out of range: %q", parsed.Score)
	}
	return score, nil
}

func (a *AIClient) complete(ctx context.Context, prompt string, temperature float64, maxTokens int64) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	log.WithFields(log.Fields{
		"model":  a.model,
		"tokens": resp.Usage.TotalTokens,
	}).Debug("openai completion")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
