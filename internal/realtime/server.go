package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clause/internal/files"
	"clause/internal/protocol"
	"clause/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	checkTimeout  = 10 * time.Second

	// DefaultHistory is the number of broadcast envelopes replayed to a
	// newly connected client.
	DefaultHistory = 200

	minSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Sender forwards a user message to the assistant session.
type Sender interface {
	Send(req session.Request) (string, error)
}

// Snapshotter reports the current session state.
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// DirWatcher starts change notification for a path.
type DirWatcher interface {
	Watch(root string) error
}

// Options configures a Hub. Sender and Sessions are required.
type Options struct {
	Sender     Sender
	Sessions   Snapshotter
	Watcher    DirWatcher
	ClaudePath string
	StaticDir  string
	History    int
	Logger     *slog.Logger

	// Available overrides the CLI availability check. Defaults to session.Available.
	Available func(ctx context.Context, path string) bool
}

// Hub manages WebSocket connections. It fans assistant events and file
// changes out to every client and routes client commands to the session
// dispatcher and the file service.
type Hub struct {
	sender     Sender
	sessions   Snapshotter
	fileWatch  DirWatcher
	claudePath string
	staticDir  string
	available  func(ctx context.Context, path string) bool
	logger     *slog.Logger

	// clientsMu also orders history writes against client registration so
	// a new client sees every envelope exactly once.
	clients   map[*client]bool
	clientsMu sync.RWMutex
	history   *RingBuffer[[]byte]
	sendCap   int
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	closed bool
}

// NewHub creates a new realtime hub.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	available := opts.Available
	if available == nil {
		available = session.Available
	}
	if opts.History < 0 {
		opts.History = 0
	}
	return &Hub{
		sender:     opts.Sender,
		sessions:   opts.Sessions,
		fileWatch:  opts.Watcher,
		claudePath: opts.ClaudePath,
		staticDir:  opts.StaticDir,
		available:  available,
		logger:     logger,
		clients:    make(map[*client]bool),
		history:    NewRingBuffer[[]byte](opts.History),
		sendCap:    max(minSendBuffer, opts.History+minSendBuffer),
	}
}

// Handler returns an http.Handler with all routes configured.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", h.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /claude/send", h.handleSend)
	mux.HandleFunc("GET /claude/available", h.handleAvailable)
	mux.HandleFunc("GET /claude/session", h.handleSession)
	mux.HandleFunc("GET /files", h.handleListFiles)
	mux.HandleFunc("GET /files/content", h.handleReadFile)
	mux.HandleFunc("PUT /files/content", h.handleWriteFile)
	mux.HandleFunc("POST /watch", h.handleWatch)

	// Static file serving.
	if h.staticDir != "" {
		fileServer := http.FileServer(http.Dir(h.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Emit publishes an assistant event to every client.
func (h *Hub) Emit(ev session.Event) {
	h.publish(protocol.TypeClaudeEvent, ev)
}

// OnFileChange is the callback for the file watcher.
func (h *Hub) OnFileChange(change protocol.FileChangePayload) {
	h.publish(protocol.TypeFileChange, change)
}

// publish records a broadcast envelope in the history and sends it to all
// connected clients.
func (h *Hub) publish(topic string, payload any) {
	msg, err := protocol.NewMessage(topic, payload)
	if err != nil {
		h.logger.Error("encode broadcast", "topic", topic, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast", "topic", topic, "error", err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	h.history.Write(data)
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
			h.logger.Warn("client buffer full, dropping message", "client", c.id, "topic", topic)
		}
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendCap),
		hub:  h,
	}

	// Replay history before the client becomes visible to publish.
	h.clientsMu.Lock()
	for _, data := range h.history.ReadAll() {
		select {
		case c.send <- data:
		default:
		}
	}
	h.clients[c] = true
	h.clientsMu.Unlock()

	h.logger.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		c.hub.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	h.clientsMu.Unlock()

	h.logger.Debug("client disconnected", "client", c.id)
}

// handleMessage processes a validated client message.
func (h *Hub) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		requestID := ""
		if msg != nil {
			requestID = msg.RequestID
		}
		h.sendError(c, requestID, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeClaudeSend:
		h.handleWSSend(c, msg)
	case protocol.TypeClaudeCheck:
		h.handleWSCheck(c, msg)
	case protocol.TypeFilesList:
		h.handleWSList(c, msg)
	case protocol.TypeFilesRead:
		h.handleWSRead(c, msg)
	case protocol.TypeFilesWrite:
		h.handleWSWrite(c, msg)
	case protocol.TypeFilesWatch:
		h.handleWSWatch(c, msg)
	}
}

func (h *Hub) handleWSSend(c *client, msg *protocol.Message) {
	var payload protocol.ClaudeSendPayload
	json.Unmarshal(msg.Payload, &payload)

	sessionID, err := h.sender.Send(session.Request{
		Message: payload.Message,
		WorkDir: payload.WorkDir,
		Context: payload.Context,
	})
	if err != nil {
		h.logger.Warn("send to claude failed", "client", c.id, "error", err)
		h.sendError(c, msg.RequestID, sendErrorCode(err), err.Error())
		return
	}

	h.reply(c, msg.RequestID, protocol.TypeClaudeSent, protocol.ClaudeSentPayload{SessionID: sessionID})
}

func (h *Hub) handleWSCheck(c *client, msg *protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	h.reply(c, msg.RequestID, protocol.TypeClaudeAvailable, protocol.ClaudeAvailablePayload{
		Available: h.available(ctx, h.claudePath),
	})
}

func (h *Hub) handleWSList(c *client, msg *protocol.Message) {
	var payload protocol.PathPayload
	json.Unmarshal(msg.Payload, &payload)

	entries, err := files.List(payload.Path)
	if err != nil {
		h.sendError(c, msg.RequestID, protocol.ErrFileError, err.Error())
		return
	}

	h.reply(c, msg.RequestID, protocol.TypeFilesEntries, protocol.FilesEntriesPayload{
		Path:    payload.Path,
		Entries: entries,
	})
}

func (h *Hub) handleWSRead(c *client, msg *protocol.Message) {
	var payload protocol.PathPayload
	json.Unmarshal(msg.Payload, &payload)

	content, err := files.Read(payload.Path)
	if err != nil {
		h.sendError(c, msg.RequestID, protocol.ErrFileError, err.Error())
		return
	}

	h.reply(c, msg.RequestID, protocol.TypeFilesContent, protocol.FileContentPayload{
		Path:    payload.Path,
		Content: content,
	})
}

func (h *Hub) handleWSWrite(c *client, msg *protocol.Message) {
	var payload protocol.FileWritePayload
	json.Unmarshal(msg.Payload, &payload)

	if err := files.Write(payload.Path, payload.Content); err != nil {
		h.sendError(c, msg.RequestID, protocol.ErrFileError, err.Error())
		return
	}

	h.reply(c, msg.RequestID, protocol.TypeFilesWritten, protocol.PathPayload{Path: payload.Path})
}

func (h *Hub) handleWSWatch(c *client, msg *protocol.Message) {
	var payload protocol.PathPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := h.watch(payload.Path); err != nil {
		h.sendError(c, msg.RequestID, protocol.ErrWatchFailed, err.Error())
		return
	}

	h.reply(c, msg.RequestID, protocol.TypeFilesWatching, protocol.PathPayload{Path: payload.Path})
}

func (h *Hub) watch(path string) error {
	if h.fileWatch == nil {
		return errWatchDisabled
	}
	if err := h.fileWatch.Watch(path); err != nil {
		h.logger.Warn("failed to start file watcher", "path", path, "error", err)
		return err
	}
	return nil
}

var errWatchDisabled = errors.New("file watching is disabled")

// sendErrorCode maps a dispatcher error to its wire code.
func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSpawn):
		return protocol.ErrSpawnFailed
	case errors.Is(err, session.ErrNoInput):
		return protocol.ErrNoInput
	case errors.Is(err, session.ErrWrite), errors.Is(err, session.ErrFlush):
		return protocol.ErrWriteFailed
	default:
		return protocol.ErrInternal
	}
}

func (h *Hub) reply(c *client, requestID, msgType string, payload any) {
	msg, err := protocol.NewReply(requestID, msgType, payload)
	if err != nil {
		h.logger.Error("encode reply", "type", msgType, "error", err)
		return
	}
	h.sendTo(c, msg)
}

func (h *Hub) sendError(c *client, requestID, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	msg.RequestID = requestID
	h.sendTo(c, msg)
}

func (h *Hub) sendTo(c *client, msg *protocol.Message) {
	data, _ := json.Marshal(msg)

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
