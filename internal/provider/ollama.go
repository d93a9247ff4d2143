package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaProvider implements Protocol for Ollama-compatible APIs.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewOllamaProvider(endpoint, model string) *OllamaProvider {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaProvider{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		// No client timeout here: the caller bounds each call with a context
		// deadline so configuration stays in one place.
		client: &http.Client{},
	}
}

func (p *OllamaProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	url := fmt.Sprintf("%s/api/chat", p.endpoint)
	if strings.TrimSpace(p.model) == "" {
		return "", fmt.Errorf("model is required")
	}

	type ollamaMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	ollamaReq := struct {
		Model    string          `json:"model"`
		Messages []ollamaMessage `json:"messages"`
		Stream   bool            `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature,omitempty"`
			NumPredict  int     `json:"num_predict,omitempty"`
		} `json:"options,omitempty"`
	}{
		Model:  p.model,
		Stream: false,
	}
	if req.System != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: "user", Content: req.User})
	ollamaReq.Options.Temperature = req.Temperature
	ollamaReq.Options.NumPredict = req.MaxTokens

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done bool `json:"done"`
	}
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return ollamaResp.Message.Content, nil
}
