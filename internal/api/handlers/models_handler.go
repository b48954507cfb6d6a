package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minatori/partnerai/internal/providers/llm"
)

type ModelsHandler struct {
	manager llm.ModelManager
}

func NewModelsHandler(manager llm.ModelManager) *ModelsHandler {
	return &ModelsHandler{manager: manager}
}

// BaseModelCatalog is the curated set of base models offered for
// fine-tuning.
var BaseModelCatalog = []CatalogModel{
	{Name: "gemma3:4b", Description: "Balanced quality and speed, good default"},
	{Name: "llama3.2:3b", Description: "Light and fast, modest quality"},
	{Name: "qwen2.5:3b", Description: "Strong multilingual coverage"},
	{Name: "mistral:7b", Description: "Higher quality, needs more memory"},
}

type CatalogModel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Installed   bool   `json:"installed"`
}

// List returns the models installed on the inference host.
func (h *ModelsHandler) List(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	models, err := h.manager.ListModels(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"models": models})
}

// AvailableModels returns the curated base-model catalog with installed
// flags. A catalog entry counts as installed when a model with the same
// name prefix is present on the host.
func (h *ModelsHandler) AvailableModels(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	installed, err := h.manager.ListModels(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	names := make([]string, 0, len(installed))
	for _, m := range installed {
		names = append(names, m.Name)
	}

	catalog := make([]CatalogModel, len(BaseModelCatalog))
	installedCount := 0
	for i, entry := range BaseModelCatalog {
		entry.Installed = false
		base := strings.SplitN(entry.Name, ":", 2)[0]
		for _, name := range names {
			if name == entry.Name || strings.HasPrefix(name, base+":") {
				entry.Installed = true
				installedCount++
				break
			}
		}
		catalog[i] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"models":          catalog,
		"installed_count": installedCount,
	})
}
