package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/identity"
	"github.com/coder/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type    string              `json:"type"`
	Query   string              `json:"query,omitempty"`
	Context domain.QueryContext `json:"context"`
}

// wsReply is a server frame on /ws/chat.
type wsReply struct {
	Type   string               `json:"type"`
	Result *domain.RouterResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// HandleWebSocket serves /ws/chat: each {"type":"query"} frame is routed and
// answered with a {"type":"result"} frame on the same connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	threadID := identity.ThreadIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "thread_id", threadID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.allowedOrigins),
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "thread_id", threadID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "thread_id", threadID)
		}
	}()
	ws.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	client := identity.IPFromRequest(r)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "thread_id", threadID)
			} else {
				h.logger.Debug("WebSocket read error", "error", err, "thread_id", threadID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		var reply wsReply
		switch msg.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "query":
			reply = h.answer(ctx, client, threadID, msg)
		default:
			reply = wsReply{Type: "error", Error: "unknown message type"}
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "thread_id", threadID)
			return
		}
	}
}

func (h *Handler) answer(ctx context.Context, client, threadID string, msg wsMessage) wsReply {
	if h.limiter != nil && !h.limiter.Allow(client) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}
	q := domain.Query{Text: strings.TrimSpace(msg.Query), Context: msg.Context}
	if q.Text == "" {
		return wsReply{Type: "error", Error: "query is required"}
	}
	if q.Context.ThreadID == "" {
		q.Context.ThreadID = threadID
	}
	res := h.router.Process(ctx, q)
	return wsReply{Type: "result", Result: &res}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// originPatterns converts allowed origins into host patterns for Accept.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
