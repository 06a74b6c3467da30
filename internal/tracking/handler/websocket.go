// Package handler exposes the hub over a websocket and the internal HTTP
// surface used by the business layer and operators.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trackhub/internal/platform/middleware"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	dErrors "trackhub/pkg/domain-errors"
	"trackhub/pkg/platform/httputil"
	"trackhub/pkg/requestcontext"
)

// Hub is the application surface the websocket drives.
type Hub interface {
	Connect(ctx context.Context, id models.ConnectionID, identity models.Identity, sender ports.Sender, platform string) error
	Disconnect(ctx context.Context, id models.ConnectionID, reason models.DisconnectReason)
	SubscribeToOrder(ctx context.Context, conn models.ConnectionID, req models.OrderRequest) (models.SubscriptionAck, error)
	UnsubscribeFromOrder(ctx context.Context, conn models.ConnectionID, req models.OrderRequest) error
	JoinCompanyGroup(ctx context.Context, conn models.ConnectionID, req models.CompanyRequest) ([]models.VehicleSnapshot, error)
	LeaveCompanyGroup(ctx context.Context, conn models.ConnectionID, req models.CompanyRequest) error
	UpdateLocation(ctx context.Context, conn models.ConnectionID, req models.LocationRequest) error
	RequestVehicleLocation(ctx context.Context, conn models.ConnectionID, req models.VehicleRequest) (models.VehicleLocationReply, error)
}

// Options tunes the websocket transport.
type Options struct {
	SendBuffer      int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:      64,
		PingInterval:    25 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 16 << 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = o.PingInterval * 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	return o
}

// WebSocket upgrades authenticated clients and runs their read loop.
type WebSocket struct {
	hub      Hub
	auth     middleware.Authenticator
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewWebSocket creates the websocket transport.
func NewWebSocket(hub Hub, auth middleware.Authenticator, opts Options, logger *zap.Logger, m *metrics.Metrics) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	h := &WebSocket{
		hub:     hub,
		auth:    auth,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocket) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.opts.AllowedOrigins, origin)
}

// ServeHTTP authenticates the handshake, upgrades, registers the connection
// and serves it until it closes.
func (h *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, err := h.auth.Authenticate(middleware.BearerToken(r, true))
	if err != nil {
		h.logger.Warn("websocket handshake rejected",
			zap.String("request_id", requestcontext.RequestID(ctx)),
			zap.Error(err),
		)
		httputil.WriteError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := models.NewConnectionID()
	ctx = requestcontext.WithConnectionID(context.WithoutCancel(ctx), id)
	ctx = requestcontext.WithIdentity(ctx, identity)

	conn := newWSConn(id, ws, h.opts, h.logger)
	conn.onWriteError = func() { h.hub.Disconnect(ctx, id, models.ReasonTransportError) }

	if err := h.hub.Connect(ctx, id, identity, conn, platformLabel(r.UserAgent())); err != nil {
		h.logger.Error("register connection failed", zap.String("connection_id", id.String()), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteTimeout))
		_ = ws.Close()
		return
	}
	go conn.writePump()

	reason := h.readLoop(ctx, conn)
	h.hub.Disconnect(ctx, id, reason)
}

func (h *WebSocket) readLoop(ctx context.Context, c *wsConn) models.DisconnectReason {
	c.ws.SetReadLimit(h.opts.MaxMessageBytes)
	extend := func() error { return c.ws.SetReadDeadline(time.Now().Add(h.opts.PongTimeout)) }
	_ = extend()
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed() {
				return c.reason
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return models.ReasonClientClose
			}
			h.logger.Debug("websocket read failed",
				zap.String("connection_id", c.id.String()),
				zap.Error(err),
			)
			return models.ReasonTransportError
		}
		_ = extend()
		if !h.handleFrame(ctx, c, data) {
			return models.ReasonDeadConnection
		}
	}
}

// handleFrame routes one inbound frame and queues the direct reply, if any.
// It returns false when the reply could not be queued.
func (h *WebSocket) handleFrame(ctx context.Context, c *wsConn, data []byte) bool {
	var f models.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return h.replyError(c, f, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed frame"))
	}
	label := frameLabel(f.Type)
	h.metrics.IncrementInbound(label)

	method, reply, err := h.route(ctx, c.id, f)
	if err != nil {
		h.metrics.IncrementInboundError(label, string(dErrors.CodeOf(err)))
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.Error("frame handling failed",
				zap.String("connection_id", c.id.String()),
				zap.String("type", f.Type),
				zap.Error(err),
			)
		}
		return h.replyError(c, f, err)
	}
	if method == "" {
		return true
	}
	frame, err := models.EncodeFrame(method, f.ID, reply)
	if err != nil {
		return h.replyError(c, f, err)
	}
	return c.Send(frame) == nil
}

func (h *WebSocket) route(ctx context.Context, conn models.ConnectionID, f models.Frame) (string, any, error) {
	switch f.Type {
	case models.MethodSubscribeToOrder:
		req, err := decodeData[models.OrderRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		ack, err := h.hub.SubscribeToOrder(ctx, conn, req)
		return models.MethodOrderSubscribed, ack, err
	case models.MethodUnsubscribeFromOrder:
		req, err := decodeData[models.OrderRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		return "", nil, h.hub.UnsubscribeFromOrder(ctx, conn, req)
	case models.MethodJoinCompanyGroup:
		req, err := decodeData[models.CompanyRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		fleet, err := h.hub.JoinCompanyGroup(ctx, conn, req)
		return models.MethodReceiveCompanyVehicles, fleet, err
	case models.MethodLeaveCompanyGroup:
		req, err := decodeData[models.CompanyRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		return "", nil, h.hub.LeaveCompanyGroup(ctx, conn, req)
	case models.MethodUpdateLocation:
		req, err := decodeData[models.LocationRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		return "", nil, h.hub.UpdateLocation(ctx, conn, req)
	case models.MethodRequestVehicleLocation:
		req, err := decodeData[models.VehicleRequest](f.Data)
		if err != nil {
			return "", nil, err
		}
		loc, err := h.hub.RequestVehicleLocation(ctx, conn, req)
		return models.MethodReceiveVehicleLocation, loc, err
	case models.MethodPing:
		return models.MethodPong, nil, nil
	default:
		return "", nil, dErrors.New(dErrors.CodeBadRequest, "unknown frame type "+f.Type)
	}
}

func (h *WebSocket) replyError(c *wsConn, f models.Frame, err error) bool {
	frame, encErr := models.EncodeFrame(models.MethodReceiveError, f.ID, models.ErrorReply{
		Code:      string(dErrors.CodeOf(err)),
		Message:   dErrors.MessageOf(err),
		Operation: f.Type,
	})
	if encErr != nil {
		return true
	}
	return c.Send(frame) == nil
}

func decodeData[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed frame data")
	}
	return out, nil
}

var inboundTypes = []string{
	models.MethodSubscribeToOrder,
	models.MethodUnsubscribeFromOrder,
	models.MethodJoinCompanyGroup,
	models.MethodLeaveCompanyGroup,
	models.MethodUpdateLocation,
	models.MethodRequestVehicleLocation,
	models.MethodPing,
}

func frameLabel(t string) string {
	if slices.Contains(inboundTypes, t) {
		return t
	}
	return "unknown"
}
