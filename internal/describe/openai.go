package describe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/your-org/galleryai/internal/failure"
)

type OpenAIProvider struct {
	client       *openai.Client
	model        string
	maxImageSide int
}

func NewOpenAIProvider(apiKey, model string, maxImageSide int, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:       &client,
		model:        model,
		maxImageSide: maxImageSide,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai/" + p.model
}

func (p *OpenAIProvider) DescribePhoto(ctx context.Context, imageData []byte) (*PhotoDescription, error) {
	resized, err := ResizeImage(imageData, p.maxImageSide)
	if err != nil {
		return nil, err
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(photoDescriptionPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart("Describe this photo."),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "high",
						}),
					},
				},
			},
		},
	}

	var lastErr error
	for range parseAttempts {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    p.model,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(1500),
		})
		if err != nil {
			return nil, callError("openai", openAIStatus(err), err)
		}
		if len(resp.Choices) == 0 {
			return nil, failure.Wrap(failure.CodeAPIError, errors.New("openai returned no choices"))
		}

		content := resp.Choices[0].Message.Content
		d, err := parseDescription(content)
		if err == nil {
			return d, nil
		}
		lastErr = err

		messages = append(messages,
			openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(content),
					},
				},
			},
			openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(parseFeedback(err)),
					},
				},
			},
		)
	}

	return nil, failure.Wrap(failure.CodeParseError,
		fmt.Errorf("parse description after %d attempts: %w", parseAttempts, lastErr))
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:      openai.EmbeddingModelTextEmbedding3Small,
		Dimensions: openai.Int(EmbeddingDim),
	})
	if err != nil {
		return nil, callError("openai", openAIStatus(err), err)
	}
	if len(resp.Data) == 0 {
		return nil, failure.Wrap(failure.CodeAPIError, errors.New("openai returned no embedding"))
	}

	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
