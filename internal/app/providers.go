// Package app assembles the completion backends and the model catalog from
// configuration. It is shared by the API server and the terminal client.
package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-orchestrator/internal/catalog"
	"github.com/capitalize-ai/chat-orchestrator/internal/config"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
)

// ErrNoProviders is returned when no API key is configured.
var ErrNoProviders = errors.New("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")

// Backend is the routed completion client and the catalog describing it.
type Backend struct {
	Router  *llm.Router
	Catalog *catalog.Catalog
}

// NewBackend builds every provider that has credentials and routes the
// catalog's models onto them.
func NewBackend(cfg *config.Config, log *logger.Logger) (*Backend, error) {
	router := llm.NewRouter()

	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		router.Register(c)
	}

	if cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "" {
		var opts []llm.OpenAIOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if len(cfg.OpenAIModels) > 0 {
			opts = append(opts, llm.WithModels(cfg.OpenAIModels...))
		}
		c, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		router.Register(c)
	}

	if len(router.Providers()) == 0 {
		return nil, ErrNoProviders
	}

	cat, err := loadCatalog(cfg, router, log)
	if err != nil {
		return nil, err
	}

	log.Info("LLM backend ready",
		zap.Strings("providers", router.Providers()),
		zap.Int("models", len(cat.Models)),
	)
	return &Backend{Router: router, Catalog: cat}, nil
}

func loadCatalog(cfg *config.Config, router *llm.Router, log *logger.Logger) (*catalog.Catalog, error) {
	if cfg.CatalogFile == "" {
		return CatalogFromRouter(router), nil
	}

	cat, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	if unavailable := cat.Routes(router); len(unavailable) > 0 {
		log.Warn("catalog models hidden, provider not configured", zap.Strings("models", unavailable))
	}
	return cat, nil
}

// CatalogFromRouter lists every routed model under its serving provider.
func CatalogFromRouter(router *llm.Router) *catalog.Catalog {
	cat := &catalog.Catalog{}
	for _, id := range router.Models() {
		m := catalog.Model{ID: id, Name: id}
		if c, ok := router.Resolve(id); ok {
			m.Provider = c.Name()
		}
		cat.Models = append(cat.Models, m)
	}
	return cat
}
