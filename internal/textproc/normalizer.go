package textproc

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyDatePattern = regexp.MustCompile(`\b(\d{1,2})([./-])(\d{1,2})([./-])(\d{4})\b`)

	// 1,000 groups thousands; 1,01 carries cents.
	currencyPrefixPattern = regexp.MustCompile(`(€|\$|£)\s?(\d{1,3}(?:,\d{3})+|\d+)(?:[.,](\d{1,2}))?\b`)
	currencySuffixPattern = regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})+|\d+)(?:[.,](\d{1,2}))?\s?(€|\$|£|EUR\b|USD\b|GBP\b)`)

	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)+`)
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+|\b(?:[a-z0-9\-]+\.)+(?:com|lt|net|org|eu|io|ai|dev|info|app)\b(?:/[^\s<>"]*)?`)
	schemePrefix = regexp.MustCompile(`(?i)^https?://`)
)

const trailingPunctuation = `.,!?;:)]}'"`

// Normalize rewrites generated text into a form a speech synthesizer reads
// naturally. Rules run in a fixed order and are idempotent.
func Normalize(text, lang string) string {
	lex := LexiconFor(lang)

	out := lineBreaksToSentences(text)
	out = rewriteDates(out, lex)
	out = rewriteCurrency(out, lex)
	out = rewriteEmails(out, lex)
	out = rewriteURLs(out, lex)
	return strings.Join(strings.Fields(out), " ")
}

func lineBreaksToSentences(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var b strings.Builder
	for i, line := range lines {
		b.WriteString(line)
		if i == len(lines)-1 {
			break
		}
		if strings.ContainsRune(".,!?;:…", lastRune(line)) {
			b.WriteString(" ")
		} else {
			b.WriteString(". ")
		}
	}
	return b.String()
}

func rewriteDates(text string, lex *Lexicon) string {
	text = isoDatePattern.ReplaceAllStringFunc(text, func(match string) string {
		m := isoDatePattern.FindStringSubmatch(match)
		if phrase, ok := datePhrase(lex, m[3], m[2], m[1]); ok {
			return phrase
		}
		return match
	})
	return dmyDatePattern.ReplaceAllStringFunc(text, func(match string) string {
		m := dmyDatePattern.FindStringSubmatch(match)
		if m[2] != m[4] {
			return match
		}
		if phrase, ok := datePhrase(lex, m[1], m[3], m[5]); ok {
			return phrase
		}
		return match
	})
}

func datePhrase(lex *Lexicon, day, month, year string) (string, bool) {
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	return lex.DatePhrase(d, m, year), true
}

// rewriteCurrency handles "5 €" before "€5" so a symbol between two numbers
// binds to the amount in front of it.
func rewriteCurrency(text string, lex *Lexicon) string {
	text = currencySuffixPattern.ReplaceAllStringFunc(text, func(match string) string {
		m := currencySuffixPattern.FindStringSubmatch(match)
		return amountPhrase(lex, m[3], m[1], m[2], match)
	})
	return currencyPrefixPattern.ReplaceAllStringFunc(text, func(match string) string {
		m := currencyPrefixPattern.FindStringSubmatch(match)
		return amountPhrase(lex, m[1], m[2], m[3], match)
	})
}

func amountPhrase(lex *Lexicon, symbol, major, minor, fallback string) string {
	words, ok := lex.currencies[symbol]
	if !ok {
		return fallback
	}
	major = trimLeadingZeros(strings.ReplaceAll(major, ",", ""))

	var b strings.Builder
	b.WriteString(major)
	b.WriteString(" ")
	b.WriteString(words.major(major))

	if minor != "" {
		if len(minor) == 1 {
			minor += "0"
		}
		if cents := trimLeadingZeros(minor); cents != "0" {
			b.WriteString(" ")
			b.WriteString(lex.And)
			b.WriteString(" ")
			b.WriteString(cents)
			b.WriteString(" ")
			b.WriteString(words.minor(cents))
		}
	}
	return b.String()
}

func rewriteEmails(text string, lex *Lexicon) string {
	return emailPattern.ReplaceAllStringFunc(text, func(match string) string {
		local, domain, _ := strings.Cut(match, "@")
		return local + " " + lex.At + " " + verbalizeSeparators(domain, lex)
	})
}

func rewriteURLs(text string, lex *Lexicon) string {
	return urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		body := strings.TrimRight(match, trailingPunctuation)
		trailing := match[len(body):]

		body = schemePrefix.ReplaceAllString(body, "")
		body = strings.TrimRight(body, "/")
		if body == "" {
			return match
		}
		return verbalizeSeparators(body, lex) + trailing
	})
}

func verbalizeSeparators(s string, lex *Lexicon) string {
	var parts []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			parts = append(parts, word.String())
			word.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case '.':
			flush()
			parts = append(parts, lex.Dot)
		case '-':
			flush()
			parts = append(parts, lex.Dash)
		case '_':
			flush()
			parts = append(parts, lex.Underscore)
		case '/':
			flush()
			parts = append(parts, lex.Slash)
		case ':', '?', '=', '&', '#', '%', '+':
			flush()
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return strings.Join(parts, " ")
}

func trimLeadingZeros(digits string) string {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
