// Package describe turns photo bytes into a description, search tags and
// per-face traits using a multimodal LLM, and embeds text for semantic search.
package describe

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/your-org/galleryai/internal/config"
	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
)

//go:embed prompts/photo_description.txt
var photoDescriptionPrompt string

// EmbeddingDim is the size of description embeddings stored for search.
const EmbeddingDim = 1536

// parseAttempts bounds how often the model is asked to fix invalid JSON.
const parseAttempts = 3

type FaceDescription struct {
	BoundingBox models.BoundingBox `json:"bounding_box"`
	Appearance  string             `json:"appearance"`
	Role        string             `json:"role"`
	Expression  string             `json:"expression"`
	AgeRange    string             `json:"age_range"`
}

type PhotoDescription struct {
	Description string            `json:"description"`
	SearchTags  []string          `json:"search_tags"`
	Faces       []FaceDescription `json:"faces"`
	// Raw is the model output the description was parsed from.
	Raw json.RawMessage `json:"-"`
}

// Describer produces a PhotoDescription from image bytes. Errors carry a
// failure code.
type Describer interface {
	Name() string
	DescribePhoto(ctx context.Context, image []byte) (*PhotoDescription, error)
}

// Embedder returns an EmbeddingDim vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is a backend that can both describe photos and embed text.
type Provider interface {
	Describer
	Embedder
}

// New builds the provider selected in cfg.
func New(ctx context.Context, cfg config.DescribeConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, errors.New("openai key is not configured")
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, cfg.MaxImageSide), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, errors.New("gemini key is not configured")
		}
		return NewGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.MaxImageSide)
	default:
		return nil, fmt.Errorf("unknown describe provider %q", cfg.Provider)
	}
}

// parseDescription decodes and sanitizes model output.
func parseDescription(content string) (*PhotoDescription, error) {
	content = stripCodeFence(content)

	var d PhotoDescription
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Description) == "" {
		return nil, errors.New("description is empty")
	}

	d.Description = strings.TrimSpace(d.Description)
	d.SearchTags = models.NormalizeTags(d.SearchTags)

	faces := d.Faces[:0]
	for _, f := range d.Faces {
		f.BoundingBox = clampBox(f.BoundingBox)
		if f.BoundingBox.Width <= 0 || f.BoundingBox.Height <= 0 {
			continue
		}
		f.Appearance = strings.TrimSpace(f.Appearance)
		f.Role = strings.ToLower(strings.TrimSpace(f.Role))
		f.Expression = strings.TrimSpace(f.Expression)
		f.AgeRange = strings.TrimSpace(f.AgeRange)
		faces = append(faces, f)
	}
	d.Faces = faces
	d.Raw = json.RawMessage(content)

	return &d, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clampBox(b models.BoundingBox) models.BoundingBox {
	clamp := func(v float64) float64 { return max(0, min(1, v)) }
	b.X = clamp(b.X)
	b.Y = clamp(b.Y)
	b.Width = min(clamp(b.Width), 1-b.X)
	b.Height = min(clamp(b.Height), 1-b.Y)
	return b
}

func parseFeedback(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Remember to escape quotes inside strings with backslash.", err)
}

// classifyStatus maps an HTTP status returned by a provider to a failure code.
func classifyStatus(status int, message string) failure.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return failure.CodeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return failure.CodeTimeout
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnsupportedMediaType || status == http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(message), "image") {
			return failure.CodeImageError
		}
		return failure.CodeAPIError
	default:
		return failure.CodeAPIError
	}
}

// callError wraps a transport error. Context deadlines are left for
// failure.Classify to report as TIMEOUT.
func callError(provider string, status int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	if status == 0 {
		return failure.Wrap(failure.CodeAPIError, fmt.Errorf("%s request: %w", provider, err))
	}
	return failure.Wrap(classifyStatus(status, err.Error()), fmt.Errorf("%s request: %w", provider, err))
}
