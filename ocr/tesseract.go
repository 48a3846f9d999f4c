package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognizes text with the local Tesseract library
type TesseractEngine struct {
	lang          string
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed engine. lang defaults to "eng".
func NewTesseractEngine(lang string) *TesseractEngine {
	if lang == "" {
		lang = "eng"
	}
	return &TesseractEngine{lang: lang, clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Name() string { return EngineTesseract }

// Recognize performs OCR on a single image. A fresh client is used per call
// because gosseract clients are not safe for concurrent use.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.lang); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
