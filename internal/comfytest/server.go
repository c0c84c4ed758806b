// Package comfytest runs an in-process stand-in for a ComfyUI server:
// uploads, /view, /prompt with a scripted executor, /history and the /ws
// status stream.
package comfytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Node is a prompt node as received by the server.
type Node struct {
	ClassType string                     `json:"class_type"`
	Inputs    map[string]json.RawMessage `json:"inputs"`
}

// String returns input name decoded as a string, or "".
func (n Node) String(name string) string {
	var s string
	_ = json.Unmarshal(n.Inputs[name], &s)
	return s
}

// Link returns the node id input name links to, or "".
func (n Node) Link(name string) string {
	var l []any
	if json.Unmarshal(n.Inputs[name], &l) != nil || len(l) != 2 {
		return ""
	}
	s, _ := l[0].(string)
	return s
}

// Run is one queued prompt being executed by an Executor.
type Run struct {
	ID       string
	ClientID string
	Nodes    map[string]Node

	srv *Server
}

// Executor scripts the server's reaction to a prompt. It runs in its own
// goroutine after /prompt has answered.
type Executor func(r *Run)

// Server is the fake. Fields may be set before the first request.
type Server struct {
	*httptest.Server

	Executor Executor

	// RejectPrompt, when set, is returned as the /prompt error body with
	// status 400.
	RejectPrompt string

	mu      sync.Mutex
	conns   map[string]*wsConn
	files   map[string][]byte
	prompts []*Run
	history map[string]map[string]any
	next    int
	erased  []string
	stats   string
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewServer starts a fake server that is closed with the test.
func NewServer(t testing.TB) *Server {
	s := &Server{
		conns:   make(map[string]*wsConn),
		files:   make(map[string][]byte),
		history: make(map[string]map[string]any),
		stats:   `{"system": {"os": "posix", "python_version": "3.11.9", "embedded_python": false, "comfyui_version": "0.3.40", "ram_total": 67108864000, "ram_free": 50000000000}, "devices": [{"name": "cuda:0 NVIDIA GeForce RTX 4090", "type": "cuda", "index": 0, "vram_total": 25386352640, "vram_free": 24000000000, "torch_vram_total": 0, "torch_vram_free": 0}]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("POST /prompt", s.handlePrompt)
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"exec_info": {"queue_remaining": 0}}`)
	})
	mux.HandleFunc("POST /upload/image", s.handleUpload)
	mux.HandleFunc("GET /view", s.handleView)
	mux.HandleFunc("GET /history/{id}", s.handleHistory)
	mux.HandleFunc("POST /history", s.handleHistoryPost)
	mux.HandleFunc("POST /interrupt", func(w http.ResponseWriter, _ *http.Request) {})
	mux.HandleFunc("GET /system_stats", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		io.WriteString(w, s.stats)
	})
	mux.HandleFunc("GET /embeddings", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `["easynegative"]`)
	})
	mux.HandleFunc("GET /extensions", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `["/extensions/core/clipspace.js"]`)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// HostPort splits the server address for client.NewComfyClient.
func (s *Server) HostPort(t testing.TB) (string, int) {
	host, port, err := net.SplitHostPort(s.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return host, p
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := r.URL.Query().Get("clientId")
	wc := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[id] = wc
	s.mu.Unlock()

	wc.write(map[string]any{
		"type": "status",
		"data": map[string]any{"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 0}}, "sid": id},
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string          `json:"client_id"`
		Prompt   map[string]Node `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.RejectPrompt != "" {
		body := s.RejectPrompt
		s.mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, body)
		return
	}
	s.next++
	run := &Run{
		ID:       fmt.Sprintf("prompt-%d", s.next),
		ClientID: req.ClientID,
		Nodes:    req.Prompt,
		srv:      s,
	}
	s.prompts = append(s.prompts, run)
	number := s.next
	exec := s.Executor
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{"prompt_id": run.ID, "number": number, "node_errors": map[string]any{}})
	if exec != nil {
		go exec(run)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub := r.FormValue("subfolder")
	typ := r.FormValue("type")
	if typ == "" {
		typ = "input"
	}
	name := hdr.Filename
	s.PutFile(sub, name, data)
	json.NewEncoder(w).Encode(map[string]string{"name": name, "subfolder": sub, "type": typ})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data, ok := s.File(q.Get("subfolder"), q.Get("filename"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	out, ok := s.history[id]
	s.mu.Unlock()
	if !ok {
		io.WriteString(w, `{}`)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{id: map[string]any{"outputs": out}})
}

func (s *Server) handleHistoryPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delete []string `json:"delete"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.erased = append(s.erased, req.Delete...)
	s.mu.Unlock()
}

// PutFile stores a file that /view and LoadImage can see.
func (s *Server) PutFile(subfolder, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey(subfolder, name)] = data
}

// File returns a stored file.
func (s *Server) File(subfolder, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[fileKey(subfolder, name)]
	return data, ok
}

// LoadImage returns the bytes of the file a LoadImage image input names,
// which may include a subfolder.
func (s *Server) LoadImage(path string) ([]byte, bool) {
	sub, name := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		sub, name = path[:i], path[i+1:]
	}
	return s.File(sub, name)
}

func fileKey(subfolder, name string) string {
	return subfolder + "/" + name
}

// Prompts returns every prompt received so far.
func (s *Server) Prompts() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Run(nil), s.prompts...)
}

// Erased returns the prompt ids deleted from history.
func (s *Server) Erased() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.erased...)
}

// SetStats replaces the /system_stats body.
func (s *Server) SetStats(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = body
}

// Send pushes a raw message to the run's client. It waits briefly for the
// websocket to register since /ws and /prompt may race.
func (r *Run) Send(typ string, data map[string]any) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.srv.mu.Lock()
		c := r.srv.conns[r.ClientID]
		r.srv.mu.Unlock()
		if c != nil {
			return c.write(map[string]any{"type": typ, "data": data})
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("comfytest: no websocket for client %s", r.ClientID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Start sends execution_start.
func (r *Run) Start() {
	r.Send("execution_start", map[string]any{"prompt_id": r.ID})
}

// Executing reports node as running.
func (r *Run) Executing(node string) {
	r.Send("executing", map[string]any{"node": node, "display_node": node, "prompt_id": r.ID})
}

// Progress reports sampler progress.
func (r *Run) Progress(node string, value, max int) {
	r.Send("progress", map[string]any{"value": value, "max": max, "node": node, "prompt_id": r.ID})
}

// Executed reports the UI output of node and records it in history.
func (r *Run) Executed(node string, output map[string]any) {
	r.srv.mu.Lock()
	h := r.srv.history[r.ID]
	if h == nil {
		h = make(map[string]any)
		r.srv.history[r.ID] = h
	}
	h[node] = output
	r.srv.mu.Unlock()
	r.Send("executed", map[string]any{"node": node, "output": output, "prompt_id": r.ID})
}

// RecordHistory stores output in history without sending executed.
func (r *Run) RecordHistory(node string, output map[string]any) {
	r.srv.mu.Lock()
	defer r.srv.mu.Unlock()
	h := r.srv.history[r.ID]
	if h == nil {
		h = make(map[string]any)
		r.srv.history[r.ID] = h
	}
	h[node] = output
}

// Finish sends the end-of-prompt executing message.
func (r *Run) Finish() {
	r.Send("executing", map[string]any{"node": nil, "prompt_id": r.ID})
}

// Fail sends execution_error for node.
func (r *Run) Fail(node, exceptionType, message string) {
	r.Send("execution_error", map[string]any{
		"prompt_id":         r.ID,
		"node_id":           node,
		"node_type":         r.Nodes[node].ClassType,
		"executed":          []string{},
		"exception_message": message,
		"exception_type":    exceptionType,
		"traceback":         []string{"Traceback (most recent call last):"},
	})
}

// Interrupt sends execution_interrupted.
func (r *Run) Interrupt(node string) {
	r.Send("execution_interrupted", map[string]any{
		"prompt_id": r.ID,
		"node_id":   node,
		"node_type": r.Nodes[node].ClassType,
		"executed":  []string{},
	})
}

// SaveOutput stores data as an output file and returns its descriptor as
// sent in an executed message.
func (r *Run) SaveOutput(name string, data []byte) map[string]any {
	r.srv.PutFile("", name, data)
	return map[string]any{"filename": name, "subfolder": "", "type": "output"}
}

// NodeOfClass returns the id of the first node of the given class type.
func (r *Run) NodeOfClass(classType string) string {
	ids := make([]int, 0, len(r.Nodes))
	for id := range r.Nodes {
		n, err := strconv.Atoi(id)
		if err == nil {
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	for _, n := range ids {
		id := strconv.Itoa(n)
		if r.Nodes[id].ClassType == classType {
			return id
		}
	}
	return ""
}
