package handler

import (
	"net/http"

	"github.com/capitalize-ai/chat-orchestrator/internal/catalog"
	"github.com/capitalize-ai/chat-orchestrator/internal/service"
)

// ModelsResponse lists selectable models and the default selection.
type ModelsResponse struct {
	Models  []catalog.Model `json:"models"`
	Default []string        `json:"default"`
}

// ModelsHandler handles the model catalog endpoint.
type ModelsHandler struct {
	service *service.ChatService
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(svc *service.ChatService) *ModelsHandler {
	return &ModelsHandler{service: svc}
}

// List handles GET /api/v1/models
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  h.service.Catalog().Visible(),
		Default: h.service.DefaultSelection(),
	})
}
