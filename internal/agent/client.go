package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Turn is one message of a conversation as the model sees it.
type Turn struct {
	Role    string
	Content string
}

// Transcript is a titled conversation handed to the report composer.
type Transcript struct {
	Title string
	Turns []Turn
}

type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentConcerning Sentiment = "concerning"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Assessment struct {
	Analysis    string
	Predictions string
	Sentiment   Sentiment
	RiskLevel   RiskLevel
}

const (
	fallbackReply       = "I apologize, I could not generate a response."
	fallbackAnalysis    = "Analysis could not be generated at this time."
	fallbackPredictions = "Predictions could not be generated at this time."
)

// DefaultAssessment is what the analysis layer stores when the model call or
// its output cannot be used.
func DefaultAssessment() Assessment {
	return Assessment{
		Analysis:    fallbackAnalysis,
		Predictions: fallbackPredictions,
		Sentiment:   SentimentNeutral,
		RiskLevel:   RiskLow,
	}
}

type Config struct {
	APIKey        string
	BaseURL       string
	ChatModel     string
	AnalysisModel string
	ReportModel   string
}

// Client talks to any OpenAI-compatible chat completion API (OpenAI, DeepSeek).
type Client struct {
	api           *openai.Client
	chatModel     string
	analysisModel string
	reportModel   string
	log           *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4
	}
	return &Client{
		api:           openai.NewClientWithConfig(oc),
		chatModel:     chatModel,
		analysisModel: orDefault(cfg.AnalysisModel, chatModel),
		reportModel:   orDefault(cfg.ReportModel, chatModel),
		log:           log,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Respond produces the assistant's next reply. The full ordered history is
// sent; guidance, when present, is appended to the system prompt verbatim.
func (c *Client) Respond(ctx context.Context, history []Turn, guidance string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(guidance),
	})
	for _, t := range history {
		role := t.Role
		if role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   600,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return fallbackReply, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Analyze never fails: any call or parse error yields DefaultAssessment.
func (c *Client) Analyze(ctx context.Context, history []Turn) Assessment {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.analysisModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: analysisPrompt(history)},
		},
		Temperature: 0.5,
	})
	if err != nil {
		c.log.Warn("analysis call failed", zap.Error(err))
		return DefaultAssessment()
	}
	if len(resp.Choices) == 0 {
		return DefaultAssessment()
	}

	a, err := parseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		c.log.Warn("analysis output unusable", zap.Error(err))
		return DefaultAssessment()
	}
	return a
}

func (c *Client) ComposeReport(ctx context.Context, patientName string, chats []Transcript, analysis string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.reportModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: reportPrompt(patientName, chats, analysis)},
		},
		Temperature: 0.6,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", fmt.Errorf("report completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("report completion returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

type rawAssessment struct {
	Analysis    string `json:"analysis"`
	Predictions string `json:"predictions"`
	Sentiment   string `json:"sentiment"`
	RiskLevel   string `json:"riskLevel"`
}

func parseAssessment(content string) (Assessment, error) {
	content = stripFences(content)
	var raw rawAssessment
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Assessment{}, fmt.Errorf("invalid analysis json: %w", err)
	}
	a := Assessment{
		Analysis:    orDefault(strings.TrimSpace(raw.Analysis), "Analysis not available"),
		Predictions: orDefault(strings.TrimSpace(raw.Predictions), "Predictions not available"),
		Sentiment:   NormalizeSentiment(raw.Sentiment),
		RiskLevel:   NormalizeRisk(raw.RiskLevel),
	}
	return a, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func NormalizeSentiment(s string) Sentiment {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentConcerning:
		return v
	}
	return SentimentNeutral
}

func NormalizeRisk(s string) RiskLevel {
	switch v := RiskLevel(strings.ToLower(strings.TrimSpace(s))); v {
	case RiskLow, RiskMedium, RiskHigh:
		return v
	}
	return RiskLow
}
