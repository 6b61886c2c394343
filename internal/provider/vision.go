package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"brightpath/internal/pkg/httpclient"
	"brightpath/internal/retry"
)

// VisionClient talks to a messages-style API that accepts inline documents
// and images, used primarily for text extraction from scans and PDFs.
type VisionClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *httpclient.Client
}

const visionAPIVersion = "2023-06-01"

// NewVisionClient creates a messages API client.
func NewVisionClient(name, baseURL, apiKey, model string) *VisionClient {
	return &VisionClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  httpclient.New().WithTimeout(2 * time.Minute),
	}
}

func (v *VisionClient) Name() string {
	return v.name
}

type visionRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []visionMessage `json:"messages"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []visionBlock `json:"content"`
}

type visionBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *visionSource `json:"source,omitempty"`
}

type visionSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type visionResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (v *VisionClient) ExtractText(ctx context.Context, input ExtractionInput) (string, error) {
	mt := mediaType(input.FileType)
	blockType := "image"
	if mt == "application/pdf" {
		blockType = "document"
	}

	text, err := v.send(ctx, visionRequest{
		Model:     v.model,
		MaxTokens: 8192,
		System:    "You extract the complete text content from documents. Return only the extracted text, no commentary.",
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionBlock{
				{
					Type: blockType,
					Source: &visionSource{
						Type:      "base64",
						MediaType: mt,
						Data:      base64.StdEncoding.EncodeToString(input.Data),
					},
				},
				{Type: "text", Text: "Extract all text from this document (" + input.FileName + ")."},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (v *VisionClient) Analyze(ctx context.Context, content, category string) (*AnalysisOutcome, error) {
	raw, err := v.send(ctx, visionRequest{
		Model:     v.model,
		MaxTokens: 4096,
		System:    "You analyze documents and respond with strict JSON matching the requested schema.",
		Messages: []visionMessage{{
			Role:    "user",
			Content: []visionBlock{{Type: "text", Text: analysisPrompt(content, category)}},
		}},
	})
	if err != nil {
		return nil, err
	}
	return parseOutcome(v.name, raw)
}

func (v *VisionClient) Synthesize(ctx context.Context, prompt string) (string, error) {
	text, err := v.send(ctx, visionRequest{
		Model:     v.model,
		MaxTokens: 8192,
		System:    "You write clear, well-structured reports in markdown.",
		Messages: []visionMessage{{
			Role:    "user",
			Content: []visionBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (v *VisionClient) send(ctx context.Context, body visionRequest) (string, error) {
	resp, err := v.client.Request().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", v.apiKey).
		SetHeader("anthropic-version", visionAPIVersion).
		SetBody(body).
		Post(v.baseURL + "/v1/messages")
	if err != nil {
		return "", wrapTransport(v.name, err)
	}
	if cerr := classifyStatus(v.name, resp.StatusCode(), resp.Body()); cerr != nil {
		return "", cerr
	}

	var parsed visionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", retry.Transient(v.name+": unparseable response", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", retry.Transient(v.name+": response carried no text block", nil)
}
