package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GoogleDefaultModel is the default model for the Google provider.
const GoogleDefaultModel = "gemini-2.0-flash-exp"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements CoreLLM for Google's Gemini API.
type googleProvider struct {
	BaseProvider
	client     *genai.Client
	counter    *TokenCounter
	classifier *ErrorClassifier
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider: BaseProvider{model: model},
		client:       client,
		counter:      NewTokenCounter(),
		classifier:   &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a prompt to the Gemini API and returns the response text
// with token usage from the response metadata.
func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	// Gemini has no separate system role; fold the system prompt into the
	// user content.
	finalPrompt := prompt
	if options.System != "" {
		finalPrompt = fmt.Sprintf("System: %s\n\nUser: %s", options.System, prompt)
	}
	contents := []*genai.Content{genai.NewContentFromText(finalPrompt, genai.RoleUser)}

	genConfig := &genai.GenerateContentConfig{}
	if options.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*options.Temperature))
	}
	if options.MaxTokens > 0 {
		if options.MaxTokens > math.MaxInt32 {
			genConfig.MaxOutputTokens = math.MaxInt32
		} else {
			genConfig.MaxOutputTokens = int32(options.MaxTokens)
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, genConfig)
	if err != nil {
		return "", Usage{}, p.classify(err)
	}

	content := resp.Text()
	if content == "" {
		return "", Usage{}, ErrEmptyResponse
	}

	return content, p.usageFrom(resp.UsageMetadata, prompt, content), nil
}

// usageFrom reads token counts from response metadata, estimating when the
// metadata is absent.
func (p *googleProvider) usageFrom(meta *genai.GenerateContentResponseUsageMetadata, prompt, content string) Usage {
	var usage Usage
	if meta != nil {
		usage.TokensIn = int(meta.PromptTokenCount)
		usage.TokensOut = int(meta.CandidatesTokenCount)
	}
	usage.TokensIn = p.counter.Count(usage.TokensIn, prompt)
	usage.TokensOut = p.counter.Count(usage.TokensOut, content)
	return usage
}

func (p *googleProvider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		if apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "safety") {
			return NewProviderError("google", ErrorTypeBadRequest, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}
