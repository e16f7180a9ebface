package classify

import (
	"context"
	"net/http"
	"strings"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3"
)

// OllamaOptions configures the local Ollama backend.
type OllamaOptions struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Ollama calls a local Ollama server's /api/generate.
type Ollama struct {
	baseURL     string
	model       string
	temperature *float64
	client      *http.Client
}

// NewOllama returns an Ollama backend. client may be nil.
func NewOllama(opts OllamaOptions, temperature *float64, client *http.Client) *Ollama {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOllamaBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultOllamaModel
	}
	return &Ollama{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		temperature: temperature,
		client:      httpClient(client),
	}
}

// Name implements textModel.
func (o *Ollama) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	req := ollamaRequest{Model: o.model, Prompt: prompt, Format: "json"}
	if o.temperature != nil {
		req.Options = map[string]any{"temperature": *o.temperature}
	}
	var resp struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}
