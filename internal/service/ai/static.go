package ai

import (
	"context"
	"iter"
)

// MissingKeyMessage is spoken when no backend credentials are configured.
const MissingKeyMessage = "Neturiu OPENAI_API_KEY."

// StaticGenerator answers every request with the same text.
type StaticGenerator struct {
	text string
}

// NewStaticGenerator creates a generator that always replies with text.
func NewStaticGenerator(text string) *StaticGenerator {
	return &StaticGenerator{text: text}
}

func (g *StaticGenerator) Name() string { return "static" }

// Stream implements Generator.
func (g *StaticGenerator) Stream(ctx context.Context, _ Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if ctx.Err() != nil || g.text == "" {
			return
		}
		yield(g.text, nil)
	}
}
