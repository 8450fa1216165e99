package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

const systemPrompt = "You are an assistant that writes short, punchy scripts for social video platforms. Keep them concise and hook the viewer in the first line."

// Service holds the Gemini client used to generate video scripts.
type Service struct {
	client *genai.Client
	model  string
}

// NewService initializes the Gemini client.
func NewService(ctx context.Context, apiKey, modelName string) (*Service, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("generator api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Service{client: client, model: modelName}, nil
}

// GenerateScript produces a script for the given prompt and platform. Empty
// model output is an error; callers bound the call with a context timeout.
func (s *Service) GenerateScript(ctx context.Context, prompt, platform string) (string, error) {
	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	res, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf("Write a %s script for: %s", platform, prompt)))
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}

	text := strings.TrimSpace(responseText(res))
	if text == "" {
		return "", errors.New("empty response from model")
	}
	return text, nil
}

// Close releases the underlying client connection.
func (s *Service) Close() error {
	return s.client.Close()
}

func responseText(res *genai.GenerateContentResponse) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String()
}
