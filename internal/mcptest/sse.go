package mcptest

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ToolHandler answers a tools/call. Returning a non-nil RPCError sends a
// JSON-RPC error instead of a result.
type ToolHandler func(name string, args map[string]any) (*ToolResult, *RPCError)

// ToolResult is the result of a tools/call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is a single content item.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TextResult builds a single-text-item result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// EchoTool returns the received command as a JSON text item.
func EchoTool(name string, args map[string]any) (*ToolResult, *RPCError) {
	data, _ := json.Marshal(map[string]any{"tool": name, "command": args["command"]})
	return TextResult(string(data)), nil
}

type session struct {
	frames chan []byte
}

type rpcMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.gets++
	fail := s.gets <= s.cfg.FailGETs
	s.mu.Unlock()

	if fail || !s.authorized(r) {
		s.unauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	id := s.nextID("session")
	sess := &session{frames: make(chan []byte, 16)}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	if !s.cfg.WithholdEndpoint {
		data := "/mcp/message?sessionId=" + id
		if s.cfg.EndpointData != nil {
			data = s.cfg.EndpointData(s.srv.URL, id)
		}
		_, _ = fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case frame := <-sess.frames:
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.posts++
	fail := s.posts <= s.cfg.FailPOSTs
	s.mu.Unlock()

	if fail || !s.authorized(r) {
		s.unauthorized(w)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	s.mu.Lock()
	sess := s.sessions[sessionID]
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var msg rpcMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.methods[msg.Method]++
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// Notifications get no response.
	if len(msg.ID) == 0 {
		return
	}

	if s.cfg.InterleaveForeign {
		s.push(sess, json.RawMessage(`"foreign-`+s.nextID("x")+`"`), map[string]any{
			"content": []Content{{Type: "text", Text: "not yours"}},
		}, nil)
	}

	switch msg.Method {
	case "initialize":
		s.push(sess, msg.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "mcptest", "version": "1.0.0"},
		}, nil)

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		if cmd, ok := params.Arguments["command"].(string); ok {
			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()
		}

		tool := s.cfg.Tool
		if tool == nil {
			tool = EchoTool
		}
		result, rpcErr := tool(params.Name, params.Arguments)
		if rpcErr != nil {
			s.push(sess, msg.ID, nil, rpcErr)
		} else {
			s.push(sess, msg.ID, result, nil)
		}

	default:
		s.push(sess, msg.ID, nil, &RPCError{Code: -32601, Message: "method not found: " + msg.Method})
	}
}

func (s *Server) push(sess *session, id json.RawMessage, result any, rpcErr *RPCError) {
	frame := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		frame["error"] = rpcErr
	} else {
		frame["result"] = result
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.t.Errorf("mcptest: marshal frame: %v", err)
		return
	}
	select {
	case sess.frames <- data:
	case <-s.done:
	}
}
