package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// DefaultSystemPrompt is used when SYSTEM_PROMPT is not configured.
const DefaultSystemPrompt = `Tu esi Paule iš Paule.ai.
Kalbi lietuviškai, šiltai, natūraliai, trumpais sakiniais.
Nesi robotas. Nekartoji tų pačių frazių.
Atsakinėji pagal tai, ką žmogus pasakė, ir užduodi 1 klausimą į priekį.
Tikslas: aptarnauti / parduoti / užbookinti laiką.
Jei vartotojas nori registracijos, paprašyk jo vardo, telefono ir pageidaujamo laiko.`

// voiceRules keeps replies speakable: the text goes straight to synthesis.
var voiceRules = map[string][]string{
	"lt": {
		"Atsakymas bus perskaitytas balsu telefonu, todėl nenaudok sąrašų, lentelių, žvaigždučių ar emoji",
		"Rašyk 1–3 trumpus sakinius, kiekvieną baigk skyrybos ženklu",
		"Jei negirdėjai ar nesupratai, mandagiai paprašyk pakartoti",
	},
	"en": {
		"Your reply is read aloud on a phone call, so never use lists, tables, asterisks or emoji",
		"Answer in one to three short sentences and end each with punctuation",
		"If you did not catch something, politely ask the caller to repeat it",
	},
}

// PromptBuilder turns a caller utterance into a backend request.
type PromptBuilder struct {
	systemPrompt string
}

// NewPromptBuilder creates a builder around the configured system prompt.
func NewPromptBuilder(systemPrompt string) *PromptBuilder {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &PromptBuilder{systemPrompt: strings.TrimSpace(systemPrompt)}
}

// Instructions returns the system prompt with the speech rules for lang.
func (b *PromptBuilder) Instructions(lang string) string {
	key := "lt"
	header := "Pokalbio taisyklės:"
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		key = "en"
		header = fmt.Sprintf("Call rules (reply in %s):", lang)
	}

	return fmt.Sprintf("%s\n\n%s\n- %s", b.systemPrompt, header, strings.Join(voiceRules[key], "\n- "))
}

// UserContent frames the utterance with the call it came from.
func (b *PromptBuilder) UserContent(callID, text string) string {
	if callID == "" {
		callID = "nežinomas"
	}
	return fmt.Sprintf("Skambutis (%s). Vartotojas pasakė: %s", callID, text)
}

// Build assembles a request for one finalized utterance.
func (b *PromptBuilder) Build(sessionID, callSid, lang, text string, history []chat.Message) Request {
	callID := callSid
	if callID == "" {
		callID = sessionID
	}
	return Request{
		SessionID:    sessionID,
		CallSid:      callSid,
		Lang:         lang,
		Instructions: b.Instructions(lang),
		History:      history,
		Input:        b.UserContent(callID, text),
	}
}
