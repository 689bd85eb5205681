package transcription

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// antiFillerPrompt discourages the recognizer from inventing pleasantries on
// low-information audio. Hallucinated fillers that slip through are caught by
// FilterHallucination.
const antiFillerPrompt = "Transcribe only spoken words. If the audio contains no speech, return nothing. Do not add filler phrases or pleasantries."

// OpenAIProvider sends encoded audio to the OpenAI transcription API
type OpenAIProvider struct {
	client   *openai.Client
	model    string
	language string
}

func newOpenAIProvider(apiKey, model, language string) *OpenAIProvider {
	return &OpenAIProvider{
		client:   openai.NewClient(apiKey),
		model:    model,
		language: language,
	}
}

// Transcribe issues one transcription request and returns the raw text
func (p *OpenAIProvider) Transcribe(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: req.AudioPath,
		Language: p.language,
		Prompt:   antiFillerPrompt,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	return resp.Text, nil
}

// Name returns the provider name for logging
func (p *OpenAIProvider) Name() string {
	return "openai"
}
