package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// MaxDiffChars caps how much of a commit diff is sent to the model.
const MaxDiffChars = 15000

// TokenUsage accounts for one model call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage across calls.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Completion is a model response with its usage accounting.
type Completion struct {
	Text  string
	Usage *TokenUsage
	Model string
}

// SummarizeRequest carries one commit to be summarized.
type SummarizeRequest struct {
	Repository string
	SHA        string
	Message    string
	Author     string
	Diff       string
}

// CommitDigest is one commit's final summary text as fed into the
// report prompt.
type CommitDigest struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
	Summary string
}

// NarrativeRequest carries everything needed to write a report.
type NarrativeRequest struct {
	Repository string
	Title      string
	Branch     string
	Author     string
	Commits    []CommitDigest
}

// LLMClient generates commit summaries and report narratives.
type LLMClient interface {
	SummarizeCommit(ctx context.Context, req *SummarizeRequest) (*Completion, error)
	GenerateNarrative(ctx context.Context, req *NarrativeRequest) (*Completion, error)
}

// LLMService dispatches to the configured provider.
type LLMService struct {
	config *config.LLMConfig
}

func NewLLMService(cfg *config.LLMConfig) *LLMService {
	return &LLMService{config: cfg}
}

const summarySystemPrompt = `You are a senior engineer writing concise commit summaries. ` +
	`Summarize what the change does and why it matters in 2-4 sentences. ` +
	`Plain prose, no headings, no bullet lists.`

const narrativeSystemPrompt = `You are a senior engineer writing a development report in Markdown. ` +
	`Given a list of commit summaries, write a coherent narrative: an overview, ` +
	`the main themes of the work, and notable changes. Group related commits. ` +
	`Do not invent changes that are not in the summaries.`

// SummarizeCommit asks the summary model for a short description of a
// single commit. The diff is truncated before it reaches the provider.
func (s *LLMService) SummarizeCommit(ctx context.Context, req *SummarizeRequest) (*Completion, error) {
	diff := req.Diff
	if len(diff) > MaxDiffChars {
		diff = truncateRunes(diff, MaxDiffChars) + "\n... (diff truncated)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", req.Repository)
	fmt.Fprintf(&b, "Commit: %s\n", req.SHA)
	fmt.Fprintf(&b, "Author: %s\n", req.Author)
	fmt.Fprintf(&b, "Message:\n%s\n\n", req.Message)
	fmt.Fprintf(&b, "Diff:\n%s\n", diff)

	logger.Infof("[LLM] Summarizing commit %s (%d prompt chars)", shortSHA(req.SHA), b.Len())

	return s.complete(ctx, s.config.SummaryModel, summarySystemPrompt, b.String())
}

// GenerateNarrative asks the report model for the full report body.
func (s *LLMService) GenerateNarrative(ctx context.Context, req *NarrativeRequest) (*Completion, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\n", req.Repository)
	if req.Title != "" {
		fmt.Fprintf(&b, "Report title: %s\n", req.Title)
	}
	if req.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", req.Branch)
	}
	if req.Author != "" {
		fmt.Fprintf(&b, "Author filter: %s\n", req.Author)
	}
	fmt.Fprintf(&b, "\nCommits (%d):\n\n", len(req.Commits))
	for i, c := range req.Commits {
		fmt.Fprintf(&b, "%d. %s by %s on %s\n", i+1, shortSHA(c.SHA), c.Author, c.Date.Format("2006-01-02"))
		fmt.Fprintf(&b, "   Message: %s\n", firstLine(c.Message))
		fmt.Fprintf(&b, "   Summary: %s\n\n", c.Summary)
	}

	logger.Infof("[LLM] Generating narrative for %s (%d commits, %d prompt chars)",
		req.Repository, len(req.Commits), b.Len())

	return s.complete(ctx, s.config.ReportModel, narrativeSystemPrompt, b.String())
}

// complete dispatches one prompt to the configured provider.
func (s *LLMService) complete(ctx context.Context, model, system, prompt string) (*Completion, error) {
	switch s.config.Provider {
	case "anthropic":
		return s.callAnthropic(ctx, model, system, prompt)
	case "ollama":
		return s.callOllama(ctx, model, system, prompt)
	case "gemini":
		return s.callGemini(ctx, model, system, prompt)
	default:
		// openai and OpenAI-compatible endpoints
		return s.callOpenAI(ctx, model, system, prompt)
	}
}

func (s *LLMService) callOpenAI(ctx context.Context, model, system, prompt string) (*Completion, error) {
	clientConfig := openai.DefaultConfig(s.config.APIKey)
	if s.config.BaseURL != "" {
		clientConfig.BaseURL = s.config.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: model,
	}, nil
}

func (s *LLMService) callAnthropic(ctx context.Context, model, system, prompt string) (*Completion, error) {
	client := anthropic.NewClient(
		option.WithAPIKey(s.config.APIKey),
	)

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return &Completion{
		Text: content,
		Usage: &TokenUsage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		Model: model,
	}, nil
}

func (s *LLMService) callOllama(ctx context.Context, model, system, prompt string) (*Completion, error) {
	baseURL := s.config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	var content strings.Builder
	var usage TokenUsage
	err = client.Chat(ctx, &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage.PromptTokens = resp.Metrics.PromptEvalCount
			usage.CompletionTokens = resp.Metrics.EvalCount
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama API error: %w", err)
	}

	return &Completion{Text: content.String(), Usage: &usage, Model: model}, nil
}

func (s *LLMService) callGemini(ctx context.Context, model, system, prompt string) (*Completion, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: s.config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, model,
		genai.Text(system+"\n\n"+prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	usage := &TokenUsage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Completion{Text: resp.Text(), Usage: usage, Model: model}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
