package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/minatori/partnerai/internal/utils"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// Ollama talks to a local Ollama server. It implements Provider, Embedder,
// and ModelManager.
type Ollama struct {
	baseURL    string
	embedModel string
	dimensions int
	httpClient *http.Client
}

func NewOllama(baseURL, embedModel string, dimensions int) *Ollama {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	if dimensions <= 0 {
		dimensions = 768
	}
	return &Ollama{
		baseURL:    baseURL,
		embedModel: embedModel,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *Ollama) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	const op = "Ollama.Complete"

	if strings.TrimSpace(model) == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "model is required", nil)
	}
	if len(messages) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "messages are required", nil)
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": 0.7, "num_ctx": 8192},
	}

	var resp ollamaChatResponse
	if err := o.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", utils.E(utils.CodeUnavailable, op, "empty response from model", nil)
	}
	return resp.Message.Content, nil
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "Ollama.Embed"

	if strings.TrimSpace(text) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "text is required", nil)
	}

	req := ollamaEmbedRequest{
		Model:      o.embedModel,
		Input:      text,
		Dimensions: o.dimensions,
	}
	var resp ollamaEmbedResponse
	if err := o.doJSON(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) > 0 {
		return resp.Embeddings[0], nil
	}
	if len(resp.Embedding) > 0 {
		return resp.Embedding, nil
	}
	return nil, utils.E(utils.CodeUnavailable, op, "embed response missing embeddings", nil)
}

func (o *Ollama) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp ollamaListResponse
	if err := o.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			Name:          m.Model,
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
		})
	}
	return models, nil
}

func (o *Ollama) DeleteModel(ctx context.Context, name string) error {
	const op = "Ollama.DeleteModel"

	if strings.TrimSpace(name) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "model name is required", nil)
	}
	return o.doJSON(ctx, http.MethodDelete, "/api/delete", map[string]string{"model": name}, nil)
}

// CreateModel builds a model from a Modelfile. Ollama streams progress
// lines; the call returns once the final status arrives.
func (o *Ollama) CreateModel(ctx context.Context, name, modelfile string) error {
	const op = "Ollama.CreateModel"

	req := map[string]any{"model": name, "modelfile": modelfile, "stream": false}
	return o.doJSON(ctx, http.MethodPost, "/api/create", req, nil)
}

func (o *Ollama) doJSON(ctx context.Context, method, path string, payload, out any) error {
	const op = "Ollama"

	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return utils.E(utils.CodeInternal, op, "encode request", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return utils.E(utils.CodeTimeout, op, "inference backend timed out", err)
		}
		return utils.E(utils.CodeUnavailable, op, "inference backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusNotFound {
			return utils.E(utils.CodeNotFound, op, msg, nil)
		}
		return utils.E(utils.CodeUnavailable, op, msg, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.E(utils.CodeUnavailable, op, "decode response", err)
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

type ollamaEmbedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

type ollamaListResponse struct {
	Models []struct {
		Model   string `json:"model"`
		Size    int64  `json:"size"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}
