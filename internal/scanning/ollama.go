package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Ollama implements the Scanner interface using a local Ollama server
type Ollama struct {
	model  string
	client *resty.Client
}

// NewOllama creates a new Ollama Scanner instance.
// Vision-capable models such as llava, qwen2.5vl or llama3.2-vision are required.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(120 * time.Second) // vision models are slow on CPU

	return &Ollama{
		model:  modelName,
		client: client,
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanItems sends the photo to Ollama's chat API and parses the item list
func (o *Ollama) ScanItems(ctx context.Context, imageData []byte, contentType string, hint Hint) ([]Candidate, error) {
	pngData, err := encodeForVision(imageData, contentType)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at recognizing groceries on receipts and in kitchen storage photos. Answer with JSON only.",
			},
			{
				Role:    "user",
				Content: buildPrompt(hint),
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	}

	var chatResp ollamaChatResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&chatResp).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("calling ollama API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	candidates, err := ParseCandidates(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing items: %w", err)
	}
	return candidates, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
