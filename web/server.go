// Package web serves the browser control surface of the matrix convolver:
// a REST API, a WebSocket channel for commands, state and meters, and the
// embedded static UI.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"matrixconv/dsp"
	"matrixconv/renderer"
)

// Errors.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrBadRequest          = errors.New("web: malformed request")
	ErrUnknownMessage      = errors.New("web: unknown message type")
)

// DefaultMeterInterval is the period of meter broadcasts.
const DefaultMeterInterval = 50 * time.Millisecond

//go:embed static/*
var staticFiles embed.FS

// Controller is the renderer surface the server drives.
type Controller interface {
	Snapshot() renderer.State
	Updates() <-chan renderer.State
	Levels() renderer.Levels
	FilterSets() []renderer.FilterSetInfo
	Config() dsp.Config
	Spectrum(set string, slot int) ([]float64, error)

	SetRouting(e dsp.RoutingEntry) (uuid.UUID, error)
	RemoveRouting(input, output int) (uuid.UUID, error)
	SelectFilterSet(name string, crossfade bool) (uuid.UUID, error)
	ClearFilters() (uuid.UUID, error)
}

// Message is the envelope of every WebSocket message.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConfigPayload describes the convolver layout.
type ConfigPayload struct {
	Inputs            int    `json:"inputs"`
	Outputs           int    `json:"outputs"`
	BlockLength       int    `json:"blockLength"`
	MaxFilterLength   int    `json:"maxFilterLength"`
	MaxFilters        int    `json:"maxFilters"`
	MaxRoutings       int    `json:"maxRoutings"`
	TransitionSamples int    `json:"transitionSamples"`
	Transform         string `json:"transform"`
}

// StatePayload is sent on connect and whenever the renderer publishes.
type StatePayload struct {
	State      renderer.State           `json:"state"`
	Config     ConfigPayload            `json:"config"`
	FilterSets []renderer.FilterSetInfo `json:"filterSets"`
}

// AckPayload confirms that a command was queued.
type AckPayload struct {
	ID      uuid.UUID `json:"id"`
	Command string    `json:"command"`
}

// ErrorPayload reports a rejected or failed command.
type ErrorPayload struct {
	ID      uuid.UUID `json:"id,omitzero"`
	Command string    `json:"command,omitempty"`
	Error   string    `json:"error"`
}

// ResponsePayload is the magnitude response of one filter.
type ResponsePayload struct {
	Set       string    `json:"set"`
	Slot      int       `json:"slot"`
	Magnitude []float64 `json:"magnitude"`
}

// TransformsPayload lists the FFT implementations.
type TransformsPayload struct {
	Default   string   `json:"default"`
	Available []string `json:"available"`
}

type routingRequest struct {
	Input  int      `json:"input"`
	Output int      `json:"output"`
	Filter int      `json:"filter"`
	Gain   *float32 `json:"gain"`
}

type selectRequest struct {
	Name      string `json:"name"`
	Crossfade *bool  `json:"crossfade"`
}

// Server is the web server for the convolver UI.
type Server struct {
	ctrl          Controller
	port          int
	hub           *Hub
	logger        *slog.Logger
	meterInterval time.Duration

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a server for ctrl listening on port.
func NewServer(ctrl Controller, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		ctrl:          ctrl,
		port:          port,
		hub:           NewHub(),
		logger:        logger,
		meterInterval: DefaultMeterInterval,
	}
}

// Start runs the hub and broadcast loops and serves HTTP until Shutdown.
// The loops stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("web server starting", "port", s.port, "url", fmt.Sprintf("http://localhost:%d", s.port))

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

func (s *Server) run(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.stateLoop(ctx)
	go s.meterLoop(ctx)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// The embedded tree always contains static/.
		panic(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/routings", s.handleRoutings)
	mux.HandleFunc("POST /api/routings", s.handleSetRouting)
	mux.HandleFunc("DELETE /api/routings", s.handleRemoveRouting)
	mux.HandleFunc("GET /api/filter-sets", s.handleFilterSets)
	mux.HandleFunc("POST /api/filter-sets/select", s.handleSelectFilterSet)
	mux.HandleFunc("GET /api/response", s.handleResponse)
	mux.HandleFunc("GET /api/fft-libraries", s.handleTransforms)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

//nolint:gochecknoglobals // WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins for local development
	},
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn)

	// The client is not shared yet, so the initial state goes straight
	// into its queue.
	if data, err := encode("state", s.statePayload(s.ctrl.Snapshot())); err == nil {
		client.send <- data
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump(func(msg []byte) {
		s.handleClientMessage(client, msg)
	})
}

// handleClientMessage queues the command in msg and answers the sender
// with an ack or an error.
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendTo(client, "error", ErrorPayload{Error: fmt.Errorf("%w: %w", ErrBadRequest, err).Error()})
		return
	}

	id, err := s.dispatch(msg.Type, msg.Payload)
	if err != nil {
		s.logger.Debug("rejected client command", "type", msg.Type, "error", err)
		s.sendTo(client, "error", ErrorPayload{Command: msg.Type, Error: err.Error()})

		return
	}

	s.sendTo(client, "ack", AckPayload{ID: id, Command: msg.Type})
}

// dispatch decodes payload for the command kind and queues it.
func (s *Server) dispatch(kind string, payload json.RawMessage) (uuid.UUID, error) {
	switch renderer.CommandKind(kind) {
	case renderer.CommandSetRouting:
		var req routingRequest
		if err := decodePayload(payload, &req); err != nil {
			return uuid.Nil, err
		}

		gain := float32(1)
		if req.Gain != nil {
			gain = *req.Gain
		}

		return s.ctrl.SetRouting(dsp.RoutingEntry{Input: req.Input, Output: req.Output, Filter: req.Filter, Gain: gain})

	case renderer.CommandRemoveRouting:
		var req routingRequest
		if err := decodePayload(payload, &req); err != nil {
			return uuid.Nil, err
		}

		return s.ctrl.RemoveRouting(req.Input, req.Output)

	case renderer.CommandSelectFilterSet:
		var req selectRequest
		if err := decodePayload(payload, &req); err != nil {
			return uuid.Nil, err
		}

		crossfade := true
		if req.Crossfade != nil {
			crossfade = *req.Crossfade
		}

		return s.ctrl.SelectFilterSet(req.Name, crossfade)

	case renderer.CommandClearFilters:
		return s.ctrl.ClearFilters()
	}

	return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownMessage, kind)
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrBadRequest)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return nil
}

func encode(kind string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Payload: payload})
}

func (s *Server) sendTo(client *Client, kind string, payload any) {
	data, err := encode(kind, payload)
	if err != nil {
		s.logger.Error("failed to marshal message", "type", kind, "error", err)
		return
	}

	s.hub.sendTo(client, data)
}

func (s *Server) broadcast(kind string, payload any) {
	data, err := encode(kind, payload)
	if err != nil {
		s.logger.Error("failed to marshal message", "type", kind, "error", err)
		return
	}

	s.hub.Broadcast(data)
}

func (s *Server) statePayload(st renderer.State) StatePayload {
	cfg := s.ctrl.Config()

	return StatePayload{
		State: st,
		Config: ConfigPayload{
			Inputs:            cfg.NumberOfInputs,
			Outputs:           cfg.NumberOfOutputs,
			BlockLength:       cfg.BlockLength,
			MaxFilterLength:   cfg.MaxFilterLength,
			MaxFilters:        cfg.MaxFilterEntries,
			MaxRoutings:       cfg.MaxRoutingPoints,
			TransitionSamples: cfg.TransitionSamples,
			Transform:         cfg.Transform,
		},
		FilterSets: s.ctrl.FilterSets(),
	}
}

// stateLoop broadcasts every published state. A command that failed when
// it was applied is reported once as an error message.
func (s *Server) stateLoop(ctx context.Context) {
	var reported uuid.UUID

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.ctrl.Updates():
			s.broadcast("state", s.statePayload(st))

			if last := st.LastCommand; last != nil && last.Error != "" && last.ID != reported {
				reported = last.ID
				s.broadcast("error", ErrorPayload{ID: last.ID, Command: string(last.Command), Error: last.Error})
			}
		}
	}
}

// meterLoop broadcasts meter levels while clients are connected.
func (s *Server) meterLoop(ctx context.Context) {
	ticker := time.NewTicker(s.meterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}

			s.broadcast("meters", s.ctrl.Levels())
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statePayload(s.ctrl.Snapshot()))
}

func (s *Server) handleRoutings(w http.ResponseWriter, _ *http.Request) {
	routings := s.ctrl.Snapshot().Routings
	if routings == nil {
		routings = []dsp.RoutingEntry{}
	}

	writeJSON(w, http.StatusOK, routings)
}

func (s *Server) handleSetRouting(w http.ResponseWriter, r *http.Request) {
	s.queueFromBody(w, r, renderer.CommandSetRouting)
}

func (s *Server) handleSelectFilterSet(w http.ResponseWriter, r *http.Request) {
	s.queueFromBody(w, r, renderer.CommandSelectFilterSet)
}

func (s *Server) queueFromBody(w http.ResponseWriter, r *http.Request, kind renderer.CommandKind) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.dispatch(string(kind), body)
	s.writeQueued(w, kind, id, err)
}

func (s *Server) handleRemoveRouting(w http.ResponseWriter, r *http.Request) {
	input, errIn := strconv.Atoi(r.URL.Query().Get("input"))
	output, errOut := strconv.Atoi(r.URL.Query().Get("output"))

	if err := errors.Join(errIn, errOut); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	id, err := s.ctrl.RemoveRouting(input, output)
	s.writeQueued(w, renderer.CommandRemoveRouting, id, err)
}

func (s *Server) writeQueued(w http.ResponseWriter, kind renderer.CommandKind, id uuid.UUID, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, AckPayload{ID: id, Command: string(kind)})
}

func (s *Server) handleFilterSets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.FilterSets())
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	set := r.URL.Query().Get("set")

	slot, err := strconv.Atoi(r.URL.Query().Get("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: slot: %w", ErrBadRequest, err))
		return
	}

	mag, err := s.ctrl.Spectrum(set, slot)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, dsp.ErrOutOfRange) {
			status = http.StatusNotFound
		}

		writeError(w, status, err)

		return
	}

	writeJSON(w, http.StatusOK, ResponsePayload{Set: set, Slot: slot, Magnitude: mag})
}

func (s *Server) handleTransforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TransformsPayload{Default: dsp.DefaultTransform, Available: dsp.TransformNames()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, renderer.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, renderer.ErrUnknownFilterSet):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, dsp.ErrInvalidArgument), errors.Is(err, dsp.ErrOutOfRange):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson // payload types are plain structs
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorPayload{Error: err.Error()})
}

// OpenBrowser opens the default browser at url.
func OpenBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}

	return cmd.Start()
}
