package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/galleryai/internal/config"
	"github.com/your-org/galleryai/internal/failure"
)

func createTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestParseDescription(t *testing.T) {
	content := "```json\n" + `{
		"description": "  Bride and groom on a sandy beach at sunset. ",
		"search_tags": ["Beach", "sunset", "beach", " couple "],
		"faces": [
			{"bounding_box": {"x": 0.1, "y": 0.2, "width": 0.2, "height": 0.3}, "appearance": "white dress", "role": " Bride ", "expression": "smiling", "age_range": "25-35"},
			{"bounding_box": {"x": 0.9, "y": 0.9, "width": 0.5, "height": 0.5}, "appearance": "dark suit", "role": "groom"},
			{"bounding_box": {"x": 0.5, "y": 0.5, "width": 0, "height": 0.1}, "appearance": "degenerate"}
		]
	}` + "\n```"

	d, err := parseDescription(content)
	require.NoError(t, err)

	assert.Equal(t, "Bride and groom on a sandy beach at sunset.", d.Description)
	assert.Equal(t, []string{"beach", "sunset", "couple"}, d.SearchTags)
	require.Len(t, d.Faces, 2)
	assert.Equal(t, "bride", d.Faces[0].Role)
	assert.InDelta(t, 0.1, d.Faces[1].BoundingBox.Width, 1e-9, "box clamped to the image")
	assert.True(t, json.Valid(d.Raw))
}

func TestParseDescriptionErrors(t *testing.T) {
	_, err := parseDescription("not json")
	assert.Error(t, err)

	_, err = parseDescription(`{"description": "   ", "search_tags": []}`)
	assert.ErrorContains(t, err, "description is empty")
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    failure.Code
	}{
		{http.StatusTooManyRequests, "slow down", failure.CodeRateLimit},
		{http.StatusGatewayTimeout, "", failure.CodeTimeout},
		{http.StatusBadRequest, "Invalid image data", failure.CodeImageError},
		{http.StatusBadRequest, "unknown parameter", failure.CodeAPIError},
		{http.StatusInternalServerError, "", failure.CodeAPIError},
		{http.StatusServiceUnavailable, "", failure.CodeAPIError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.status, tt.message), "status %d", tt.status)
	}
}

func TestCallErrorKeepsDeadline(t *testing.T) {
	err := callError("openai", 0, context.DeadlineExceeded)
	assert.Equal(t, failure.CodeTimeout, failure.Classify(err))

	err = callError("openai", 0, errors.New("connection reset"))
	assert.Equal(t, failure.CodeAPIError, failure.Classify(err))
}

func TestResizeImage(t *testing.T) {
	out, err := ResizeImage(createTestJPEG(t, 400, 200), 100)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	out, err = ResizeImage(createTestJPEG(t, 40, 30), 100)
	require.NoError(t, err)
	cfg, _, err = image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)

	_, err = ResizeImage([]byte("garbage"), 100)
	assert.Equal(t, failure.CodeImageError, failure.Classify(err))
}

func TestNewProviderConfig(t *testing.T) {
	_, err := New(context.Background(), config.DescribeConfig{Provider: "openai"})
	assert.ErrorContains(t, err, "openai key")

	_, err = New(context.Background(), config.DescribeConfig{Provider: "gemini"})
	assert.ErrorContains(t, err, "gemini key")

	_, err = New(context.Background(), config.DescribeConfig{Provider: "llava"})
	assert.ErrorContains(t, err, "unknown describe provider")

	p, err := New(context.Background(), config.DescribeConfig{Provider: "OpenAI", OpenAIKey: "k", OpenAIModel: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", p.Name())
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestOpenAIDescribePhotoRetriesInvalidJSON(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		content := `{"description": "a forest trail", "search_tags": ["forest"], "faces": []}`
		if calls.Add(1) == 1 {
			content = `{"description": "broken`
		}
		_ = json.NewEncoder(w).Encode(chatResponse(content))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", "gpt-4o-mini", 512, option.WithBaseURL(srv.URL+"/"))
	d, err := p.DescribePhoto(context.Background(), createTestJPEG(t, 64, 64))
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "a forest trail", d.Description)
	assert.Equal(t, []string{"forest"}, d.SearchTags)
}

func TestOpenAIDescribePhotoParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("still not json"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", "gpt-4o-mini", 512, option.WithBaseURL(srv.URL+"/"))
	_, err := p.DescribePhoto(context.Background(), createTestJPEG(t, 32, 32))
	assert.Equal(t, failure.CodeParseError, failure.Classify(err))
}

func TestOpenAIDescribePhotoRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", "gpt-4o-mini", 512, option.WithBaseURL(srv.URL+"/"))
	_, err := p.DescribePhoto(context.Background(), createTestJPEG(t, 32, 32))
	require.Error(t, err)
	assert.Equal(t, failure.CodeRateLimit, failure.Classify(err))
}
