package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

const systemPrompt = "You are an expert software engineer specializing in code quality and security. " +
	"Your task is to fix code issues identified by static analysis. " +
	"Provide the complete fixed file content and a clear explanation of your changes."

const defaultExplanation = "AI provided a fix."

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

// FixGenerator asks a chat-completion model for a whole-file rewrite that
// resolves one finding.
type FixGenerator struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

var _ ports.FixGenerator = (*FixGenerator)(nil)

func NewFixGenerator(cfg Config) *FixGenerator {
	clientCfg := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = goopenai.GPT4
	}
	return &FixGenerator{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (g *FixGenerator) ProposeFix(ctx context.Context, req ports.FixRequest) (ports.FixProposal, error) {
	if ctx == nil {
		return ports.FixProposal{}, errors.New("context is required")
	}

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
			return ports.FixProposal{}, fmt.Errorf("%w: %w", janitor.ErrAccessDenied, err)
		}
		return ports.FixProposal{}, errs.Wrap(err, "create chat completion")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return ports.FixProposal{}, janitor.ErrEmptyFix
	}

	content, explanation := ParseResponse(resp.Choices[0].Message.Content, req.FileContent)
	return ports.FixProposal{Content: content, Explanation: explanation}, nil
}

func BuildPrompt(req ports.FixRequest) string {
	location := "Unknown line"
	if req.Line != nil && *req.Line > 0 {
		location = fmt.Sprintf("at line %d", *req.Line)
	}

	var b strings.Builder
	b.WriteString("I need you to fix a code quality issue detected by static analysis.\n\n")
	b.WriteString("**Issue Details:**\n")
	fmt.Fprintf(&b, "- File: %s\n", req.FilePath)
	fmt.Fprintf(&b, "- Rule: %s\n", req.Rule)
	fmt.Fprintf(&b, "- Severity: %s\n", req.Severity)
	fmt.Fprintf(&b, "- Location: %s\n", location)
	fmt.Fprintf(&b, "- Description: %s\n\n", req.Message)
	b.WriteString("**Current File Content:**\n```\n")
	b.WriteString(req.FileContent)
	if !strings.HasSuffix(req.FileContent, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
	b.WriteString("**Instructions:**\n")
	b.WriteString("1. Analyze the issue and understand what needs to be fixed.\n")
	b.WriteString("2. Provide the COMPLETE fixed file content (not just a diff).\n")
	b.WriteString("3. Ensure the fix addresses the rule violation.\n")
	b.WriteString("4. Maintain the original code style and formatting.\n")
	b.WriteString("5. Do not add or remove functionality unrelated to the fix.\n\n")
	b.WriteString("**Output Format:**\n")
	b.WriteString("First, provide the complete fixed file content in a code block.\n")
	b.WriteString("Then, on a new line, provide a brief explanation starting with \"Explanation: \" describing what you changed and why.\n")
	return b.String()
}

var languageTags = map[string]struct{}{
	"python": {}, "py": {}, "java": {}, "javascript": {}, "js": {}, "typescript": {}, "ts": {},
	"go": {}, "golang": {}, "cpp": {}, "c++": {}, "c": {}, "csharp": {}, "cs": {}, "kotlin": {},
	"ruby": {}, "rust": {}, "php": {}, "scala": {}, "swift": {}, "tsx": {}, "jsx": {},
}

// ParseResponse extracts the first fenced code block and the explanation
// following it. Without a code block the original content is returned so
// the caller sees an unchanged file.
func ParseResponse(response string, original string) (string, string) {
	parts := strings.Split(response, "```")
	if len(parts) < 3 {
		return original, defaultExplanation
	}

	code := parts[1]
	if first, rest, ok := strings.Cut(code, "\n"); ok {
		if _, isTag := languageTags[strings.ToLower(strings.TrimSpace(first))]; isTag {
			code = rest
		} else if strings.TrimSpace(first) == "" {
			code = rest
		}
	}
	code = strings.Trim(code, "\n")
	if strings.HasSuffix(original, "\n") {
		code += "\n"
	}

	explanation := defaultExplanation
	remaining := strings.Join(parts[2:], "```")
	if _, after, ok := strings.Cut(remaining, "Explanation:"); ok {
		explanation = strings.TrimSpace(after)
	} else if trimmed := strings.TrimSpace(remaining); trimmed != "" {
		explanation = trimmed
	}
	return code, explanation
}
