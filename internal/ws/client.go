package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zeromicro/go-zero/core/threading"

	"batchable/internal/api"
	"batchable/internal/history"
	"batchable/internal/jsonrpc"
)

const (
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
	defaultMaxMessageSize = 10 * 1024 * 1024 // 10MB
)

// Client represents a WebSocket client connection
type Client struct {
	conn           *websocket.Conn
	service        *api.Service
	maxMessageSize int64
	logger         zerolog.Logger

	subs   map[string]func()
	subsMu sync.Mutex

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, service *api.Service, maxMessageSize int64, logger zerolog.Logger) *Client {
	return &Client{
		conn:           conn,
		service:        service,
		maxMessageSize: maxMessageSize,
		logger:         logger,
		subs:           make(map[string]func()),
		sendChan:       make(chan []byte, 256),
		closeChan:      make(chan struct{}),
	}
}

// Run starts the client read and write loops
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	// Read loop (runs in current goroutine)
	c.readPump(ctx)
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(ctx, data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	if err != nil {
		c.sendError(jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	if !isBatch {
		if resp := c.handle(ctx, requests[0]); resp != nil {
			c.sendResponse(resp)
		}
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		if resp := c.handle(ctx, req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) > 0 {
		c.sendBatchResponse(responses)
	}
}

// handle serves subscription methods locally and everything else through the
// service. Notifications get no response.
func (c *Client) handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if api.CheckRequest(req) != nil {
		return c.service.Handle(ctx, req)
	}

	var resp *jsonrpc.Response
	switch req.Method {
	case MethodSubscribe:
		resp = c.handleSubscribe(req)
	case MethodUnsubscribe:
		resp = c.handleUnsubscribe(req)
	default:
		return c.service.Handle(ctx, req)
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

// handleSubscribe handles batch_subscribe [handler?]
func (c *Client) handleSubscribe(req *jsonrpc.Request) *jsonrpc.Response {
	hist := c.service.History()
	if hist == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "delivery history disabled"))
	}

	params, err := req.PositionalParams()
	if err != nil || len(params) > 1 {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected at most 1 param [handler]"))
	}
	var filter string
	if len(params) == 1 {
		if err := json.Unmarshal(params[0], &filter); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "handler must be a string"))
		}
	}

	subID := uuid.NewString()
	records, cancel := hist.Subscribe()

	// Close may already have cancelled every subscription
	c.subsMu.Lock()
	select {
	case <-c.closeChan:
		c.subsMu.Unlock()
		cancel()
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "connection closed"))
	default:
	}
	c.subs[subID] = cancel
	c.subsMu.Unlock()

	threading.GoSafe(func() { c.forward(subID, filter, records) })

	c.logger.Debug().
		Str("subID", subID).
		Str("handler", filter).
		Msg("subscription created")

	resp, err := jsonrpc.NewResponse(req.ID, subID)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// handleUnsubscribe handles batch_unsubscribe [subscriptionId]
func (c *Client) handleUnsubscribe(req *jsonrpc.Request) *jsonrpc.Response {
	params, err := req.PositionalParams()
	if err != nil || len(params) != 1 {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected 1 param [subscriptionId]"))
	}
	var subID string
	if err := json.Unmarshal(params[0], &subID); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "subscriptionId must be a string"))
	}

	c.subsMu.Lock()
	cancel, ok := c.subs[subID]
	delete(c.subs, subID)
	c.subsMu.Unlock()

	if ok {
		cancel()
	}

	c.logger.Debug().
		Str("subID", subID).
		Bool("success", ok).
		Msg("unsubscribe requested")

	resp, _ := jsonrpc.NewResponse(req.ID, ok)
	return resp
}

// forward sends records as batch_delivery notifications until the subscription ends
func (c *Client) forward(subID, filter string, records <-chan history.Record) {
	for record := range records {
		if filter != "" && record.Handler != filter {
			continue
		}

		notification, err := jsonrpc.NewNotification(api.NotificationDelivery, DeliveryParams{
			Subscription: subID,
			Result:       record,
		})
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to marshal notification")
			continue
		}
		data, err := json.Marshal(notification)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to marshal notification")
			continue
		}
		c.send(data)
	}
}

// sendResponse sends a JSON-RPC response
func (c *Client) sendResponse(resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	c.send(data)
}

// sendBatchResponse sends a batch of JSON-RPC responses
func (c *Client) sendBatchResponse(responses []*jsonrpc.Response) {
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal batch response")
		return
	}
	c.send(data)
}

// sendError sends a JSON-RPC error response
func (c *Client) sendError(id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	c.sendResponse(jsonrpc.NewErrorResponse(id, rpcErr))
}

// send sends data to the client
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close ends all subscriptions and closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)

		c.subsMu.Lock()
		for id, cancel := range c.subs {
			cancel()
			delete(c.subs, id)
		}
		c.subsMu.Unlock()

		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
