package textproc

import (
	"strings"
	"unicode"
)

// SegmenterConfig bounds the size of chunks handed to speech synthesis.
type SegmenterConfig struct {
	// SoftLimit is the minimum boundary position that allows an early cut
	// while the buffer is still longer than HardLimit.
	SoftLimit int
	// HardLimit caps every chunk, in runes.
	HardLimit int
	// MinSpaceCut is the earliest position a space may be used for a cut.
	MinSpaceCut int
}

// DefaultSegmenterConfig returns the limits used for live calls.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SoftLimit:   80,
		HardLimit:   190,
		MinSpaceCut: 40,
	}
}

// Segmenter cuts an accumulating text buffer into speakable chunks. It holds
// no state between calls.
type Segmenter struct {
	cfg SegmenterConfig
}

// NewSegmenter creates a segmenter, filling unset limits with defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = def.HardLimit
	}
	if cfg.SoftLimit <= 0 || cfg.SoftLimit > cfg.HardLimit {
		cfg.SoftLimit = min(def.SoftLimit, cfg.HardLimit)
	}
	if cfg.MinSpaceCut <= 0 || cfg.MinSpaceCut >= cfg.HardLimit {
		cfg.MinSpaceCut = min(def.MinSpaceCut, cfg.HardLimit/2)
	}
	return &Segmenter{cfg: cfg}
}

// Next returns the next chunk that can be cut from buffer and the remaining
// text. ok is false when more input is needed before a cut can be made.
// Whitespace-only cuts are dropped, so a returned chunk always has content.
//
// A terminator (. ! ? and friends) ends a chunk only when whitespace follows
// it, or when it closes the buffer on a forced flush, so "3.14" and
// "www.example.lt" stay whole. A forced flush of a buffer that already fits
// HardLimit returns it in one piece instead of looking for a space cut.
func (s *Segmenter) Next(buffer string, forceFlush bool) (chunk, rest string, ok bool) {
	rest = buffer
	for {
		var cut string
		cut, rest, ok = s.cut(rest, forceFlush)
		if !ok {
			return "", rest, false
		}
		if chunk = strings.TrimSpace(cut); chunk != "" {
			return chunk, rest, true
		}
	}
}

// Split drains text completely, as if it had arrived in one delta and the
// stream ended right after.
func (s *Segmenter) Split(text string) []string {
	var chunks []string
	rest := text
	for {
		chunk, next, ok := s.Next(rest, true)
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
		rest = next
	}
}

func (s *Segmenter) cut(buffer string, forceFlush bool) (string, string, bool) {
	runes := []rune(buffer)
	if len(runes) == 0 {
		return "", "", false
	}
	if strings.TrimSpace(buffer) == "" {
		if forceFlush {
			return "", "", false
		}
		return "", buffer, false
	}

	hard := s.cfg.HardLimit
	window := runes
	if len(window) > hard {
		window = window[:hard]
	}
	fits := len(runes) <= hard

	boundary := 0
	for i := len(window) - 1; i >= 0; i-- {
		if isBoundary(runes, i, forceFlush) {
			boundary = i + 1
			break
		}
	}

	if boundary > 0 && (boundary >= s.cfg.SoftLimit || forceFlush || fits) {
		return string(runes[:boundary]), string(runes[boundary:]), true
	}

	if !fits || forceFlush {
		if forceFlush && fits {
			return string(runes), "", true
		}
		for i := len(window) - 1; i > s.cfg.MinSpaceCut; i-- {
			if unicode.IsSpace(window[i]) {
				return string(runes[:i]), string(runes[i:]), true
			}
		}
		return string(runes[:hard]), string(runes[hard:]), true
	}

	return "", buffer, false
}

// isBoundary reports whether runes[i] ends a sentence or clause. Punctuation
// only counts when whitespace follows it, so "paule.ai", "3.5" and "https://"
// stay whole; at the very end of the buffer it counts once the stream is done.
func isBoundary(runes []rune, i int, final bool) bool {
	r := runes[i]
	if r == '\n' {
		return true
	}
	if !isTerminator(r) {
		return false
	}
	if i+1 == len(runes) {
		return final
	}
	return unicode.IsSpace(runes[i+1])
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', '\n':
		return true
	}
	return false
}
