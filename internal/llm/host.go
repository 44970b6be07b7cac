package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Control carries generation parameters for one prompt.
type Control struct {
	MaxTokens   int
	Temperature float64
	// SchemaHint describes the JSON the caller expects; hosts that support a
	// JSON response mode switch it on when set.
	SchemaHint string
}

// Response is the raw outcome of one host call. Non-2xx statuses are not errors.
type Response struct {
	Body   []byte
	Header http.Header
	Status int
}

// Host sends one prompt to a provider. It returns an error only when no HTTP
// response was received.
type Host interface {
	SendPrompt(ctx context.Context, prompt string, ctl Control) (Response, error)
}

// HTTPHost talks to an OpenAI-compatible chat-completions endpoint (Deepseek by default).
type HTTPHost struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

func NewHTTPHost(endpoint, apiKey, model string, timeout time.Duration) *HTTPHost {
	return &HTTPHost{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func (h *HTTPHost) SendPrompt(ctx context.Context, prompt string, ctl Control) (Response, error) {
	reqBody := chatRequest{
		Model:     h.Model,
		MaxTokens: ctl.MaxTokens,
	}
	if ctl.Temperature > 0 {
		t := ctl.Temperature
		reqBody.Temperature = &t
	}
	if ctl.SchemaHint != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{
			Role:    "system",
			Content: "Reply with a single JSON object matching this shape and nothing else:\n" + ctl.SchemaHint,
		})
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: prompt})

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(reqJSON))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", h.APIKey))
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{Body: body, Header: resp.Header, Status: resp.StatusCode}, nil
}
