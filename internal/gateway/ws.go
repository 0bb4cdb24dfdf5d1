package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcflow/agentcore/internal/orchestrator"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second
	wsMaxPayload   = 1 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsFrame is the envelope both directions use on the websocket
// transport. Client to server: {type:"run", project_id, model?}. Server
// to client: {type:"event", event:{...}} terminated by {type:"done"}.
type wsFrame struct {
	Type      string                    `json:"type"`
	ProjectID string                    `json:"project_id,omitempty"`
	Model     string                    `json:"model,omitempty"`
	Event     *orchestrator.StreamEvent `json:"event,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// handleWS upgrades the connection and serves run requests over it until
// the peer disconnects. One run executes at a time per connection; events
// are forwarded as they arrive.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPings:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.writeWSFrame(conn, wsFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		if frame.Type != "run" {
			s.writeWSFrame(conn, wsFrame{Type: "error", Error: "unsupported frame type"})
			continue
		}
		if frame.ProjectID == "" {
			s.writeWSFrame(conn, wsFrame{Type: "error", Error: "project_id is required"})
			continue
		}

		runCfg := s.cfg.RunConfig
		if frame.Model != "" {
			runCfg.Model = frame.Model
		}
		runCfg.Stream = true

		events := s.driver.Run(r.Context(), threadID, frame.ProjectID, runCfg)
		for event := range events {
			ev := event
			if !s.writeWSFrame(conn, wsFrame{Type: "event", Event: &ev}) {
				return
			}
		}
		if !s.writeWSFrame(conn, wsFrame{Type: "done"}) {
			return
		}
	}
}

func (s *Server) writeWSFrame(conn *websocket.Conn, frame wsFrame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame) == nil
}
