package relay

import "strings"

// Inbound message types sent by ConversationRelay.
const (
	TypeSetup     = "setup"
	TypePrompt    = "prompt"
	TypeInterrupt = "interrupt"
	TypeError     = "error"
	TypeDTMF      = "dtmf"
	TypePing      = "ping"
	TypeHeartbeat = "heartbeat"
)

// Outbound message types.
const (
	TypeText     = "text"
	TypeLanguage = "language"
)

// InboundMessage 是 ConversationRelay 发来的单条 JSON 消息，字段按类型取用。
type InboundMessage struct {
	Type string `json:"type"`

	// setup
	SessionID string `json:"sessionId,omitempty"`
	CallSid   string `json:"callSid,omitempty"`

	// prompt
	VoicePrompt string `json:"voicePrompt,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	Text        string `json:"text,omitempty"`
	Last        *bool  `json:"last,omitempty"`
	Lang        string `json:"lang,omitempty"`

	// interrupt
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt,omitempty"`
	DurationUntilInterruptMs int64  `json:"durationUntilInterruptMs,omitempty"`

	// error
	Code        any    `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Message     string `json:"message,omitempty"`

	Payload *Payload `json:"payload,omitempty"`
}

// Payload carries the nested fields some relay versions use instead of the
// top-level ones.
type Payload struct {
	SessionID  string `json:"sessionId,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// UserText returns the speech fragment of a prompt, whichever field carried it.
func (m *InboundMessage) UserText() string {
	for _, candidate := range []string{m.VoicePrompt, m.Transcript, m.Text} {
		if candidate != "" {
			return candidate
		}
	}
	if m.Payload != nil {
		if m.Payload.Text != "" {
			return m.Payload.Text
		}
		return m.Payload.Transcript
	}
	return ""
}

// IsFinal reports whether a prompt closes the utterance. Missing means final.
func (m *InboundMessage) IsFinal() bool {
	return m.Last == nil || *m.Last
}

// Identifiers returns the session and call identifiers carried by the message.
func (m *InboundMessage) Identifiers() (sessionID, callSid string) {
	sessionID, callSid = strings.TrimSpace(m.SessionID), strings.TrimSpace(m.CallSid)
	if m.Payload != nil {
		if sessionID == "" {
			sessionID = strings.TrimSpace(m.Payload.SessionID)
		}
		if callSid == "" {
			callSid = strings.TrimSpace(m.Payload.CallSid)
		}
	}
	return sessionID, callSid
}

// ErrorDescription returns whichever description field the relay filled.
func (m *InboundMessage) ErrorDescription() string {
	if m.Description != "" {
		return m.Description
	}
	return m.Message
}

// TextMessage 是发往 ConversationRelay 的待合成文本片段。
type TextMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
	Lang  string `json:"lang,omitempty"`
}

// NewText builds an outbound text token.
func NewText(token string, last bool, lang string) TextMessage {
	return TextMessage{Type: TypeText, Token: token, Last: last, Lang: lang}
}

// LanguageMessage switches the relay's synthesis and transcription language.
type LanguageMessage struct {
	Type                  string `json:"type"`
	TTSLanguage           string `json:"ttsLanguage"`
	TranscriptionLanguage string `json:"transcriptionLanguage"`
}

// NewLanguage builds a language switch for both directions.
func NewLanguage(lang string) LanguageMessage {
	return LanguageMessage{Type: TypeLanguage, TTSLanguage: lang, TranscriptionLanguage: lang}
}
