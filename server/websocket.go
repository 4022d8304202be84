package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/utils"
)

// frameWriteTimeout bounds a single binary frame write to a slow client.
const frameWriteTimeout = 10 * time.Second

type wsConnection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newUpgrader(enableCORS bool) *websocket.Upgrader {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	if enableCORS {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	} else {
		upgrader.CheckOrigin = isSameOrigin
	}

	return &upgrader
}

func isSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return originURL.Host == r.Host
}

// handleWebSocket serves JSON-RPC requests over a WebSocket, one text
// message per request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := newUpgrader(s.cfg.CORS).Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn := &wsConnection{conn: conn}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			utils.Verbose("WebSocket connection closed: %v", err)
			break
		}

		if messageType != websocket.TextMessage {
			_ = wsConn.sendError(nil, ErrCodeInvalidRequest, errTitleInvalidReq, "only text messages accepted for requests")
			continue
		}

		s.handleWSMessage(ctx, wsConn, message)
	}
}

// validateJSONRPCRequest applies the WebSocket rules on top of the shared
// envelope checks.
func validateJSONRPCRequest(req JSONRPCRequest) *rpcError {
	if rerr := validateRequest(req); rerr != nil {
		return rerr
	}

	// streaming needs its own connection
	if req.Method == "screencapture" {
		return &rpcError{ErrCodeMethodNotFound, errTitleMethodNotSupp, errMsgScreencapture}
	}
	return nil
}

func (s *Server) handleWSMessage(ctx context.Context, wsConn *wsConnection, message []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(message, &req); err != nil {
		_ = wsConn.sendError(nil, ErrCodeParseError, errTitleParseError, errMsgParseError)
		return
	}

	if rerr := validateJSONRPCRequest(req); rerr != nil {
		_ = wsConn.sendError(req.ID, rerr.code, rerr.message, rerr.data)
		return
	}

	utils.Info("WebSocket Request ID: %v, Method: %s, Params: %s", req.ID, req.Method, string(req.Params))

	handler, exists := s.methods[req.Method]
	if !exists {
		_ = wsConn.sendError(req.ID, ErrCodeMethodNotFound, errTitleMethodNotFound, req.Method+" not found")
		return
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		utils.Error("Error executing method %s: %v", req.Method, err)
		_ = wsConn.sendError(req.ID, ErrCodeServerError, errTitleServerError, err.Error())
		return
	}

	_ = wsConn.sendResponse(req.ID, result)
}

// frameRequest reads deviceId, quality and scale from the query string.
func frameRequest(query url.Values) (commands.ScreenCaptureRequest, error) {
	req := commands.ScreenCaptureRequest{
		DeviceID: query.Get("deviceId"),
	}

	if v := query.Get("quality"); v != "" {
		quality, err := strconv.Atoi(v)
		if err != nil {
			return req, err
		}
		req.Quality = quality
	}

	if v := query.Get("scale"); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, err
		}
		req.Scale = scale
	}

	return req, nil
}

// handleFrameStream sends every captured JPEG frame as one binary WebSocket
// message until the client goes away.
func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	req, err := frameRequest(r.URL.Query())
	if err != nil {
		http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := newUpgrader(s.cfg.CORS).Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only ever sends control frames; a read error means it left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.frameStream(ctx, req, func(frame []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			utils.Verbose("Frame stream client gone: %v", err)
			return false
		}
		return true
	})

	closeCode, reason := websocket.CloseNormalClosure, ""
	if err != nil {
		utils.Error("Frame stream failed: %v", err)
		closeCode, reason = websocket.CloseInternalServerErr, err.Error()
	}

	// control frame payloads are limited to 125 bytes
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(time.Second))
}

func (wsc *wsConnection) sendResponse(id interface{}, result interface{}) error {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return wsc.sendJSON(response)
}

func (wsc *wsConnection) sendError(id interface{}, code int, message string, data interface{}) error {
	response := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
			"data":    data,
		},
		ID: id,
	}
	return wsc.sendJSON(response)
}

func (wsc *wsConnection) sendJSON(v interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.WriteJSON(v)
}
