package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/neurascan/internal/core/domain"
	"github.com/kirillkom/neurascan/internal/core/ports"
	"github.com/kirillkom/neurascan/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
	now         func() time.Time
}

func New(baseURL, visionModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		executor:    executor,
		now:         time.Now,
	}
}

// Classifier asks a multimodal Ollama model to label a scan.
type Classifier struct {
	client *Client
}

var _ ports.ScanClassifier = (*Classifier)(nil)

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Initialize checks that the configured model is pulled and accepts images.
func (c *Classifier) Initialize(ctx context.Context) (bool, error) {
	info, err := resilience.Do(ctx, c.client.executor, "ollama.show", func(callCtx context.Context) (modelInfo, error) {
		var out modelInfo
		err := c.client.postJSON(callCtx, "/api/show", map[string]any{"model": c.client.visionModel}, &out, "show")
		return out, err
	}, classifyOllamaError)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return false, fmt.Errorf("model %s is not available on the ollama server", c.client.visionModel)
		}
		return false, wrapTemporaryIfNeeded("ollama.show", err)
	}
	if len(info.Capabilities) > 0 && !slices.Contains(info.Capabilities, "vision") {
		return false, fmt.Errorf("model %s does not support image input", c.client.visionModel)
	}
	return true, nil
}

func (c *Classifier) Classify(ctx context.Context, image domain.ScanImage) (domain.ClassificationResult, error) {
	if len(image.Data) == 0 {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "ollama.classify", errors.New("empty image payload"))
	}

	respText, err := resilience.Do(ctx, c.client.executor, "ollama.generate", func(callCtx context.Context) (string, error) {
		return c.client.generateJSON(callCtx, buildClassificationPrompt(image), image.Data)
	}, classifyOllamaError)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "ollama.classify", wrapTemporaryIfNeeded("ollama.generate", err))
	}

	var verdict struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &verdict); err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassification, "parse classification json", err)
	}
	label := domain.ClassificationType(strings.ToLower(strings.TrimSpace(verdict.Type)))
	return domain.ResolveLabel(label, verdict.Confidence, c.client.now()), nil
}

type modelInfo struct {
	Capabilities []string `json:"capabilities"`
}

func (c *Client) generateJSON(ctx context.Context, prompt string, image []byte) (string, error) {
	reqBody := map[string]any{
		"model":  c.visionModel,
		"prompt": prompt,
		"images": []string{base64.StdEncoding.EncodeToString(image)},
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
