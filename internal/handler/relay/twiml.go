package relay

import (
	"encoding/xml"
	"log"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-relay/backend/internal/config"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Relay conversationRelay `xml:"ConversationRelay"`
}

// conversationRelay carries only the attributes Twilio accepts for every
// provider; voice is set for ElevenLabs alone.
type conversationRelay struct {
	URL             string `xml:"url,attr"`
	Language        string `xml:"language,attr"`
	TTSProvider     string `xml:"ttsProvider,attr"`
	WelcomeGreeting string `xml:"welcomeGreeting,attr,omitempty"`
	Voice           string `xml:"voice,attr,omitempty"`
}

// handleTwiML 返回连接 ConversationRelay 的 TwiML
func (h *Handler) handleTwiML(w http.ResponseWriter, r *http.Request) {
	body, err := BuildTwiML(h.cfg, websocketURL(r))
	if err != nil {
		log.Printf("[relay] encode twiml: %v", err)
		http.Error(w, "twiml unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Printf("[relay] write twiml: %v", err)
	}
}

// BuildTwiML renders the document that connects a call to wsURL.
func BuildTwiML(cfg config.RelayConfig, wsURL string) ([]byte, error) {
	relay := conversationRelay{
		URL:             wsURL,
		Language:        cfg.Language,
		TTSProvider:     config.TTSGoogle,
		WelcomeGreeting: cfg.Welcome,
	}
	if cfg.GreetOnSetup {
		// 欢迎语改由 setup 后发送，避免重复播报。
		relay.WelcomeGreeting = ""
	}
	if cfg.TTSProvider == config.TTSElevenLabs {
		if cfg.Eleven.VoiceID == "" {
			log.Printf("[relay] ElevenLabs requested without ELEVEN_VOICE_ID, using Google")
		} else {
			relay.TTSProvider = config.TTSElevenLabs
			relay.Voice = cfg.Eleven.VoiceString()
		}
	}

	doc := twimlResponse{Connect: twimlConnect{Relay: relay}}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// websocketURL derives the public /ws address from proxy headers.
func websocketURL(r *http.Request) string {
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "https"
	}
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}

	scheme := "wss"
	if proto == "http" {
		scheme = "ws"
	}
	return scheme + "://" + host + "/ws"
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
