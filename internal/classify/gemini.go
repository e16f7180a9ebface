package classify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiOptions configures the hosted Gemini backend.
type GeminiOptions struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	apiKey      string
	model       string
	baseURL     string
	temperature *float64
	client      *http.Client
}

// NewGemini returns a Gemini backend. client may be nil.
func NewGemini(opts GeminiOptions, temperature *float64, client *http.Client) *Gemini {
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGeminiBaseURL
	}
	return &Gemini{
		apiKey:      opts.APIKey,
		model:       opts.Model,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		temperature: temperature,
		client:      httpClient(client),
	}
}

// Name implements textModel.
func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string   `json:"responseMimeType"`
		Temperature      *float64 `json:"temperature,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	req.GenerationConfig.ResponseMimeType = "application/json"
	req.GenerationConfig.Temperature = g.temperature

	endpoint := g.baseURL + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent?key=" + url.QueryEscape(g.apiKey)
	var resp geminiResponse
	if err := postJSON(ctx, g.client, "gemini", endpoint, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
