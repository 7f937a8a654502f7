package describe

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/your-org/galleryai/internal/failure"
)

const geminiEmbeddingModel = "gemini-embedding-001"

type GeminiProvider struct {
	client       *genai.Client
	model        string
	maxImageSide int
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, maxImageSide int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		model:        model,
		maxImageSide: maxImageSide,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini/" + p.model
}

func (p *GeminiProvider) DescribePhoto(ctx context.Context, imageData []byte) (*PhotoDescription, error) {
	resized, err := ResizeImage(imageData, p.maxImageSide)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{Text: photoDescriptionPrompt + "\n\nDescribe this photo."},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastErr error
	for range parseAttempts {
		result, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
		if err != nil {
			return nil, callError("gemini", geminiStatus(err), err)
		}

		content := result.Text()
		if content == "" {
			return nil, failure.Wrap(failure.CodeAPIError, errors.New("gemini returned no text"))
		}

		d, err := parseDescription(content)
		if err == nil {
			return d, nil
		}
		lastErr = err

		contents = append(contents,
			&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: content}}},
			&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: parseFeedback(err)}}},
		)
	}

	return nil, failure.Wrap(failure.CodeParseError,
		fmt.Errorf("parse description after %d attempts: %w", parseAttempts, lastErr))
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, geminiEmbeddingModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: genai.Ptr[int32](EmbeddingDim)},
	)
	if err != nil {
		return nil, callError("gemini", geminiStatus(err), err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, failure.Wrap(failure.CodeAPIError, errors.New("gemini returned no embedding"))
	}
	return resp.Embeddings[0].Values, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
