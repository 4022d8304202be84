package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Parse error: Invalid JSON was received by the server
	ErrCodeParseError = -32700

	// Invalid Request: The JSON sent is not a valid Request object
	ErrCodeInvalidRequest = -32600

	// Method not found: The method does not exist / is not available
	ErrCodeMethodNotFound = -32601

	// Server error: Internal JSON-RPC error
	ErrCodeServerError = -32000

	// Invalid params: Invalid method parameters
	ErrCodeInvalidParams = -32602

	// Internal error: Internal JSON-RPC error
	ErrCodeInternalError = -32603
)

const (
	errTitleParseError     = "Parse error"
	errTitleInvalidReq     = "Invalid Request"
	errTitleMethodNotFound = "Method not found"
	errTitleMethodNotSupp  = "Method not supported"
	errTitleServerError    = "Server error"

	errMsgParseError     = "expecting jsonrpc payload"
	errMsgInvalidJSONRPC = "'jsonrpc' must be '2.0'"
	errMsgIDRequired     = "'id' field is required"
	errMsgMethodRequired = "'method' is required"
	errMsgScreencapture  = "screencapture not supported over WebSocket, use HTTP /rpc endpoint or /frames"
)

// Server timeouts
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	IdleTimeout  = 120 * time.Second

	// streamWriteTimeout replaces WriteTimeout for MJPEG responses.
	streamWriteTimeout = 10 * time.Minute
)

var okResponse = map[string]interface{}{"status": "ok"}

type JSONRPCRequest struct {
	// these fields are all omitempty, so we can report back to client if they are missing
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	code    int
	message string
	data    string
}

// validateRequest checks the envelope shared by HTTP and WebSocket requests.
func validateRequest(req JSONRPCRequest) *rpcError {
	if req.JSONRPC != "2.0" {
		return &rpcError{ErrCodeInvalidRequest, errTitleInvalidReq, errMsgInvalidJSONRPC}
	}
	if req.ID == nil {
		return &rpcError{ErrCodeInvalidRequest, errTitleInvalidReq, errMsgIDRequired}
	}
	if req.Method == "" {
		return &rpcError{ErrCodeInvalidRequest, errTitleInvalidReq, errMsgMethodRequired}
	}
	return nil
}

// streamFunc matches commands.ScreenCaptureCommand and commands.FrameStreamCommand.
type streamFunc func(ctx context.Context, req commands.ScreenCaptureRequest, fn func([]byte) bool) error

// Server serves JSON-RPC over HTTP and WebSocket, MJPEG screen capture,
// a binary WebSocket frame stream and prometheus metrics.
type Server struct {
	cfg     config.ServerConfig
	methods map[string]HandlerFunc

	screenCapture streamFunc
	frameStream   streamFunc

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates a server with the default method table plus server.shutdown.
func New(cfg config.ServerConfig) *Server {
	s := &Server{
		cfg:           cfg,
		methods:       GetMethodRegistry(),
		screenCapture: commands.ScreenCaptureCommand,
		frameStream:   commands.FrameStreamCommand,
		shutdownCh:    make(chan struct{}),
	}
	s.methods["server.shutdown"] = s.handleShutdown
	return s
}

// corsMiddleware handles CORS preflight requests and adds CORS headers to responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", sendBanner)
	mux.HandleFunc("/rpc", s.handleJSONRPC)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/frames", s.handleFrameStream)
	mux.Handle("/metrics", promhttp.Handler())

	if s.cfg.CORS {
		return corsMiddleware(mux)
	}
	return mux
}

// normalizeAddr turns a bare port into ":port".
func normalizeAddr(addr string) (string, error) {
	if strings.Contains(addr, ":") {
		return addr, nil
	}

	port, err := strconv.Atoi(addr)
	if err != nil {
		return "", fmt.Errorf("invalid port: %v", err)
	}
	return fmt.Sprintf(":%d", port), nil
}

// Run serves until ctx is done or server.shutdown is called, then drains
// open requests for at most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	addr, err := normalizeAddr(s.cfg.Listen)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// cancelled on shutdown so open streams end before the drain
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		utils.Info("Starting server on http://%s...", listener.Addr())
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		utils.Info("Server context done, shutting down")
	case <-s.shutdownCh:
		utils.Info("Shutdown requested, shutting down")
	}

	cancel()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		utils.Warn("Graceful shutdown did not finish: %v", err)
		_ = httpServer.Close()
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RequestShutdown stops Run. It is safe to call more than once.
func (s *Server) RequestShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

func (s *Server) handleShutdown(ctx context.Context, params json.RawMessage) (interface{}, error) {
	// let the response go out before the listener closes
	time.AfterFunc(100*time.Millisecond, s.RequestShutdown)
	return okResponse, nil
}

// StartServer registers the capture metrics and runs a server until ctx is
// done or a client calls server.shutdown.
func StartServer(ctx context.Context, cfg config.ServerConfig) error {
	if err := minicap.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	return New(cfg).Run(ctx)
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONRPCError(w, nil, ErrCodeParseError, errTitleParseError, errMsgParseError)
		return
	}

	if rerr := validateRequest(req); rerr != nil {
		sendJSONRPCError(w, req.ID, rerr.code, rerr.message, rerr.data)
		return
	}

	utils.Info("Request ID: %v, Method: %s, Params: %s", req.ID, req.Method, string(req.Params))

	if req.Method == "screencapture" {
		started, err := s.handleScreenCapture(w, r, req.Params)
		if err != nil {
			utils.Error("screencapture failed: %v", err)
			if !started {
				sendJSONRPCError(w, req.ID, ErrCodeServerError, errTitleServerError, err.Error())
			}
		}
		return
	}

	handler, exists := s.methods[req.Method]
	if !exists {
		sendJSONRPCError(w, req.ID, ErrCodeMethodNotFound, errTitleMethodNotFound, fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		utils.Error("Error executing method %s: %v", req.Method, err)
		sendJSONRPCError(w, req.ID, ErrCodeServerError, errTitleServerError, err.Error())
		return
	}

	sendJSONRPCResponse(w, req.ID, result)
}

func sendJSONRPCResponse(w http.ResponseWriter, id interface{}, result interface{}) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
			"data":    data,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func sendBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(okResponse)
}

// handleScreenCapture streams multipart MJPEG into the response. Errors
// returned before the first frame are reported as JSON-RPC errors.
func (s *Server) handleScreenCapture(w http.ResponseWriter, r *http.Request, params json.RawMessage) (bool, error) {
	var req commands.ScreenCaptureRequest
	if err := decodeParams(params, &req); err != nil {
		return false, err
	}

	if req.Format == "" {
		req.Format = "mjpeg"
	}
	if req.Format != "mjpeg" {
		return false, fmt.Errorf("format must be 'mjpeg' for screen capture")
	}

	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(streamWriteTimeout))

	started := false
	err := s.screenCapture(r.Context(), req, func(data []byte) bool {
		if !started {
			w.Header().Set("Content-Type", minicap.MJPEGContentType)
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			started = true
		}
		if _, err := w.Write(data); err != nil {
			utils.Verbose("Error writing data: %v", err)
			return false
		}

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return true
	})
	return started, err
}
