package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	relayModel "github.com/zhouzirui/z-relay/backend/internal/model/relay"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	defaultURL := os.Getenv("RELAY_URL")
	if defaultURL == "" {
		defaultURL = "ws://localhost:8080/ws"
	}

	url := flag.String("url", defaultURL, "relay WebSocket 地址")
	text := flag.String("text", "Labas, kaip sekasi?", "要发送的话语，多句用 | 分隔")
	partial := flag.Bool("partial", false, "逐词发送 last=false 的片段，再发送结束标记")
	lang := flag.String("lang", "", "prompt 中携带的语言代码")
	interruptAfter := flag.Duration("interrupt-after", 0, "收到第一段回复后等待多久发送 interrupt (0 表示不打断)")
	callSid := flag.String("call", "", "自定义 callSid，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "整体超时时间")

	flag.Parse()

	if *callSid == "" {
		*callSid = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		log.Fatalf("连接 relay 失败: %v", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	sessionID := "VX" + strings.ReplaceAll(uuid.NewString(), "-", "")
	send(conn, map[string]any{"type": relayModel.TypeSetup, "sessionId": sessionID, "callSid": *callSid})
	log.Printf("已发送 setup: session=%s call=%s", sessionID, *callSid)

	for _, utterance := range strings.Split(*text, "|") {
		utterance = strings.TrimSpace(utterance)
		sendPrompt(conn, utterance, *lang, *partial)
		if err := readReply(conn, *interruptAfter); err != nil {
			log.Fatalf("读取回复失败: %v", err)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func sendPrompt(conn *websocket.Conn, utterance, lang string, partial bool) {
	log.Printf("用户: %q", utterance)
	if partial {
		for _, word := range strings.Fields(utterance) {
			send(conn, map[string]any{"type": relayModel.TypePrompt, "voicePrompt": word + " ", "last": false, "lang": lang})
		}
		send(conn, map[string]any{"type": relayModel.TypePrompt, "voicePrompt": "", "last": true, "lang": lang})
		return
	}
	send(conn, map[string]any{"type": relayModel.TypePrompt, "voicePrompt": utterance, "last": true, "lang": lang})
}

// readReply prints text tokens until one is flagged last. With interruptAfter
// set it interrupts the reply after its first token instead.
func readReply(conn *websocket.Conn, interruptAfter time.Duration) error {
	start := time.Now()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg relayModel.TextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WARN] 无法解析消息: %s", data)
			continue
		}
		if msg.Type != relayModel.TypeText {
			log.Printf("收到 %s 消息: %s", msg.Type, data)
			continue
		}

		fmt.Printf("[%6dms] %s (last=%v)\n", time.Since(start).Milliseconds(), msg.Token, msg.Last)
		if msg.Last {
			return nil
		}

		if interruptAfter > 0 {
			time.Sleep(interruptAfter)
			send(conn, map[string]any{
				"type":                     relayModel.TypeInterrupt,
				"utteranceUntilInterrupt":  msg.Token,
				"durationUntilInterruptMs": time.Since(start).Milliseconds(),
			})
			log.Println("已发送 interrupt")
			return nil
		}
	}
}

func send(conn *websocket.Conn, msg map[string]any) {
	if err := conn.WriteJSON(msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return
		}
		log.Fatalf("发送消息失败: %v", err)
	}
}
