package classify

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joshsymonds/labelsweep/internal/mail"
)

// Backend kinds.
const (
	KindGemini = "gemini"
	KindOllama = "ollama"
	KindAuto   = "auto"
)

// Options selects and configures a backend.
type Options struct {
	Kind        string        `mapstructure:"kind"`
	Gemini      GeminiOptions `mapstructure:"gemini"`
	Ollama      OllamaOptions `mapstructure:"ollama"`
	Temperature *float64      `mapstructure:"temperature"`
}

// New builds the configured backend. "auto" prefers Gemini with Ollama as
// fallback when an API key is present, and plain Ollama otherwise.
func New(opts Options, client *http.Client, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	gemini := func() Backend { return modelClassifier{NewGemini(opts.Gemini, opts.Temperature, client)} }
	ollama := func() Backend { return modelClassifier{NewOllama(opts.Ollama, opts.Temperature, client)} }

	switch opts.Kind {
	case KindGemini:
		if opts.Gemini.APIKey == "" {
			return nil, &mail.ConfigError{Field: "classifier.gemini.api_key", Message: "required for the gemini classifier"}
		}
		return gemini(), nil
	case KindOllama:
		return ollama(), nil
	case KindAuto, "":
		if opts.Gemini.APIKey == "" {
			logger.Debug("no gemini api key, using ollama")
			return ollama(), nil
		}
		return &Fallback{Primary: gemini(), Secondary: ollama(), Logger: logger}, nil
	default:
		return nil, &mail.ConfigError{Field: "classifier.kind", Message: "unknown classifier " + opts.Kind}
	}
}
