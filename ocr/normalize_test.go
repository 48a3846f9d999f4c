package ocr

import (
	"context"
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"tabs and spaces", "First\t/  Given   Name\tJohn", "First / Given Name John"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trailing spaces", "a   \nb  ", "a\nb"},
		{"box rules", "Header\n-----\nETS ID: AB01", "Header\n\nETS ID: AB01"},
		{"ids untouched", "ETS ID: X01Y0", "ETS ID: X01Y0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type stubEngine struct {
	text string
	err  error
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Recognize(context.Context, []byte) (string, error) { return s.text, s.err }

func TestExtractText(t *testing.T) {
	ctx := context.Background()

	got, err := ExtractText(ctx, stubEngine{text: "  ETS ID:\tAB1234567 \r\n"}, []byte{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ETS ID: AB1234567" {
		t.Fatalf("unexpected text %q", got)
	}

	if _, err := ExtractText(ctx, stubEngine{text: " \n\t"}, []byte{1}); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText for blank output, got %v", err)
	}
	if _, err := ExtractText(ctx, stubEngine{text: "x"}, nil); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText for empty image, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := ExtractText(ctx, stubEngine{err: boom}, []byte{1}); !errors.Is(err, boom) {
		t.Fatalf("expected engine error to be wrapped, got %v", err)
	}
}

func TestNewEngineUnknown(t *testing.T) {
	if _, err := NewEngine(context.Background(), Config{Engine: "abbyy"}); err == nil {
		t.Fatal("expected error for unknown engine")
	}
	if _, err := NewEngine(context.Background(), Config{Engine: EngineGemini}); err == nil {
		t.Fatal("expected error for gemini without key")
	}
}
