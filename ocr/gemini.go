package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const transcribePrompt = "Transcribe all text visible in this image exactly as written, " +
	"preserving line breaks and labels. Output only the transcription."

// GeminiEngine transcribes images with a Gemini vision model
type GeminiEngine struct {
	client *genai.Client
	model  string
}

// NewGeminiEngine creates a Gemini client for OCR
func NewGeminiEngine(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

func (e *GeminiEngine) Name() string { return EngineGemini }

// Recognize sends the image with a transcription prompt and joins the text parts
func (e *GeminiEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	model := e.client.GenerativeModel(e.model)
	model.SetTemperature(0)

	format := strings.TrimPrefix(http.DetectContentType(image), "image/")
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(transcribePrompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String(), nil
}

// Close releases the underlying client
func (e *GeminiEngine) Close() error {
	return e.client.Close()
}
