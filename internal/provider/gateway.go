package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"brightpath/internal/pkg/httpclient"
	"brightpath/internal/retry"
)

// GatewayClient talks to an OpenAI-compatible chat completions endpoint.
type GatewayClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *httpclient.Client
}

// NewGatewayClient creates a chat completions client.
func NewGatewayClient(name, baseURL, apiKey, model string) *GatewayClient {
	return &GatewayClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  httpclient.New().WithTimeout(2 * time.Minute),
	}
}

func (g *GatewayClient) Name() string {
	return g.name
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GatewayClient) ExtractText(ctx context.Context, input ExtractionInput) (string, error) {
	dataURL := "data:" + mediaType(input.FileType) + ";base64," +
		base64.StdEncoding.EncodeToString(input.Data)

	content, err := g.complete(ctx, []chatMessage{
		{Role: "system", Content: "You extract the complete text content from documents. Return only the extracted text, no commentary."},
		{Role: "user", Content: []map[string]interface{}{
			{"type": "text", "text": "Extract all text from this document (" + input.FileName + ")."},
			{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (g *GatewayClient) Analyze(ctx context.Context, content, category string) (*AnalysisOutcome, error) {
	prompt := analysisPrompt(content, category)
	raw, err := g.complete(ctx, []chatMessage{
		{Role: "system", Content: "You analyze documents and respond with strict JSON matching the requested schema."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}
	return parseOutcome(g.name, raw)
}

func (g *GatewayClient) Synthesize(ctx context.Context, prompt string) (string, error) {
	content, err := g.complete(ctx, []chatMessage{
		{Role: "system", Content: "You write clear, well-structured reports in markdown."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (g *GatewayClient) complete(ctx context.Context, messages []chatMessage) (string, error) {
	resp, err := g.client.Request().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+g.apiKey).
		SetBody(chatRequest{Model: g.model, Messages: messages}).
		Post(g.baseURL + "/v1/chat/completions")
	if err != nil {
		return "", wrapTransport(g.name, err)
	}
	if cerr := classifyStatus(g.name, resp.StatusCode(), resp.Body()); cerr != nil {
		return "", cerr
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", retry.Transient(g.name+": unparseable response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Transient(g.name+": response carried no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps HTTP outcomes onto retry classes: 429 is throttling,
// 402 means the account is out of credit, 5xx is the provider's problem,
// everything else non-2xx is a bad request on our side.
func classifyStatus(name string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		return retry.RateLimited(fmt.Sprintf("%s: rate limited (status %d)", name, status), nil)
	case status == 402:
		return retry.Permanent("", fmt.Sprintf("%s: payment required (status %d)", name, status))
	case status >= 500:
		return retry.Transient(fmt.Sprintf("%s: upstream error (status %d)", name, status), nil)
	default:
		return retry.Permanent("", fmt.Sprintf("%s: rejected request (status %d): %s", name, status, truncate(string(body), 200)))
	}
}

// wrapTransport classifies request-level failures. Deadline hits become
// transient timeouts; other transport errors are transient too.
func wrapTransport(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &retry.Error{
			Class:   retry.ClassTransient,
			Code:    retry.CodeTimedOut,
			Message: name + ": request timed out",
			Err:     err,
		}
	}
	return retry.Transient(name+": request failed", err)
}

// parseOutcome decodes the model's JSON answer, tolerating markdown fences.
func parseOutcome(name, raw string) (*AnalysisOutcome, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var outcome AnalysisOutcome
	if err := json.Unmarshal([]byte(cleaned), &outcome); err != nil {
		return nil, retry.Transient(name+": malformed analysis JSON", err)
	}
	return &outcome, nil
}

func analysisPrompt(content, category string) string {
	var b strings.Builder
	b.WriteString("Analyze the following document")
	if category != "" {
		b.WriteString(" (category: " + category + ")")
	}
	b.WriteString(" and respond with JSON only, using this schema:\n")
	b.WriteString(`{"summary": string, "metrics": [{"name": string, "value": number, "unit": string}], "insights": [string]}`)
	b.WriteString("\n\nDocument:\n")
	b.WriteString(content)
	return b.String()
}

func mediaType(fileType string) string {
	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "application/pdf"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
