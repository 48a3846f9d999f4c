// Package ocr turns uploaded document images into plain text. Engines are
// small adapters over a local Tesseract install or a hosted vision model.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Engine names accepted by NewEngine
const (
	EngineTesseract = "tesseract"
	EngineGemini    = "gemini"
)

// ErrNoText is returned when an image produced no recognizable text
var ErrNoText = errors.New("ocr: no text detected")

// Engine recognizes text in a single encoded image
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Config selects and tunes the OCR engine
type Config struct {
	Engine        string
	TesseractLang string
	GeminiAPIKey  string
	GeminiModel   string
}

// NewEngine builds the engine named by cfg.Engine. Engines that hold
// network clients also implement io.Closer.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Engine {
	case EngineTesseract, "":
		return NewTesseractEngine(cfg.TesseractLang), nil
	case EngineGemini:
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", cfg.Engine)
	}
}

// ExtractText runs the engine and normalizes its output. An empty result
// is reported as ErrNoText.
func ExtractText(ctx context.Context, engine Engine, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%s: empty image: %w", engine.Name(), ErrNoText)
	}
	raw, err := engine.Recognize(ctx, image)
	if err != nil {
		return "", fmt.Errorf("%s: %w", engine.Name(), err)
	}
	text := Normalize(raw)
	if text == "" {
		return "", fmt.Errorf("%s: %w", engine.Name(), ErrNoText)
	}
	return text, nil
}
