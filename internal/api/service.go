package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"batchable/internal/batcher"
	"batchable/internal/history"
	"batchable/internal/jsonrpc"
)

// Method names
const (
	MethodSubmit    = "batch_submit"
	MethodPending   = "batch_pending"
	MethodHandlers  = "batch_handlers"
	MethodStats     = "batch_stats"
	MethodHistory   = "batch_history"
	MethodSweep     = "batch_sweep"
	MethodSubscribe = "batch_subscribe"

	// NotificationDelivery is sent to batch_subscribe clients
	NotificationDelivery = "batch_delivery"
)

// PendingBatch is the JSON view of a pending batch
type PendingBatch struct {
	Handler      string    `json:"handler"`
	BatchID      string    `json:"batchId"`
	Size         int       `json:"size"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessAt time.Time `json:"lastAccessAt"`
}

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name            string `json:"name"`
	SizeThreshold   int    `json:"sizeThreshold"`
	TimeThresholdMs int64  `json:"timeThresholdMs"`
	Target          string `json:"target,omitempty"`
}

// SweepReport is the result of batch_sweep. Delivered counts extracted
// batches. When Async is set execution happens after the reply and Error
// never carries execution failures, see batch_stats and batch_history.
type SweepReport struct {
	Scanned   int    `json:"scanned"`
	Delivered int    `json:"delivered"`
	Async     bool   `json:"async,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sweeper runs an on-demand sweep, returning false if one is already running
type Sweeper interface {
	SweepNow(ctx context.Context) (batcher.SweepResult, bool)
}

// Service executes JSON-RPC requests against the engine
type Service struct {
	registry    *batcher.Registry
	coordinator *batcher.Coordinator
	sweeper     Sweeper
	history     *history.History
	targetTypes map[string]string
	logger      zerolog.Logger
}

// NewService creates a new Service. history may be nil.
func NewService(registry *batcher.Registry, coordinator *batcher.Coordinator, sweeper Sweeper, hist *history.History, logger zerolog.Logger) *Service {
	return &Service{
		registry:    registry,
		coordinator: coordinator,
		sweeper:     sweeper,
		history:     hist,
		targetTypes: make(map[string]string),
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// SetTargetType records the target type reported by batch_handlers
func (s *Service) SetTargetType(handler, targetType string) {
	s.targetTypes[handler] = targetType
}

// History returns the delivery history, nil if disabled
func (s *Service) History() *history.History {
	return s.history
}

// Handle executes a single request. It returns nil for a valid notification,
// which is executed but never answered.
func (s *Service) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if rpcErr := CheckRequest(req); rpcErr != nil {
		return jsonrpc.NewErrorResponse(idOf(req), rpcErr)
	}

	resp := s.execute(ctx, req)
	if resp.HasError() {
		s.logger.Debug().
			Str("method", req.Method).
			Int("code", resp.Error.Code).
			Str("error", resp.Error.Message).
			Msg("request failed")
	}
	if req.IsNotification() {
		return nil
	}
	return resp
}

// HandleBatch executes requests in order. Notifications are left out of the
// result, which is empty when every request was a notification.
func (s *Service) HandleBatch(ctx context.Context, requests []*jsonrpc.Request) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		if resp := s.Handle(ctx, req); resp != nil {
			responses = append(responses, resp)
		}
	}
	return responses
}

// CheckRequest returns the error answered to a request that cannot be
// executed. A null batch element arrives as a nil request.
func CheckRequest(req *jsonrpc.Request) *jsonrpc.Error {
	if req == nil {
		return jsonrpc.ErrInvalidRequest
	}
	if err := req.Validate(); err != nil {
		return jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error())
	}
	return nil
}

func idOf(req *jsonrpc.Request) jsonrpc.ID {
	if req == nil {
		return jsonrpc.NewIDNull()
	}
	return req.ID
}

func (s *Service) execute(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	params, err := req.PositionalParams()
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
	}

	result, rpcErr := s.call(ctx, req.Method, params)
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		s.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

func (s *Service) call(ctx context.Context, method string, params []json.RawMessage) (interface{}, *jsonrpc.Error) {
	switch method {
	case MethodSubmit:
		return s.submit(ctx, params)
	case MethodPending:
		return s.pending(), nil
	case MethodHandlers:
		return s.handlers(), nil
	case MethodStats:
		return s.coordinator.Stats(), nil
	case MethodHistory:
		return s.recent(params)
	case MethodSweep:
		return s.sweep(ctx)
	case MethodSubscribe:
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "batch_subscribe is only available over WebSocket")
	default:
		return nil, jsonrpc.ErrMethodNotFound
	}
}

func (s *Service) submit(ctx context.Context, params []json.RawMessage) (interface{}, *jsonrpc.Error) {
	if len(params) != 2 {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams,
			fmt.Sprintf("expected exactly 2 params [handler, item], got %d", len(params)))
	}

	var name string
	if err := json.Unmarshal(params[0], &name); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "handler must be a string")
	}
	var item interface{}
	if err := json.Unmarshal(params[1], &item); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid item")
	}

	// A size-triggered batch is executed with this context, it must outlive the request
	if err := s.registry.Submit(context.WithoutCancel(ctx), name, item); err != nil {
		if errors.Is(err, batcher.ErrUnknownHandler) {
			return nil, jsonrpc.NewError(jsonrpc.CodeUnknownHandler, err.Error())
		}
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
	}
	return true, nil
}

func (s *Service) pending() []PendingBatch {
	batches := s.coordinator.Pending()
	result := make([]PendingBatch, 0, len(batches))
	for _, b := range batches {
		result = append(result, PendingBatch{
			Handler:      string(b.Key),
			BatchID:      b.ID,
			Size:         b.Len(),
			CreatedAt:    b.CreatedAt,
			LastAccessAt: b.LastAccessAt,
		})
	}
	return result
}

func (s *Service) handlers() []HandlerInfo {
	handles := s.registry.Handles()
	result := make([]HandlerInfo, 0, len(handles))
	for _, h := range handles {
		cfg := h.Config()
		result = append(result, HandlerInfo{
			Name:            h.Name(),
			SizeThreshold:   cfg.SizeThreshold,
			TimeThresholdMs: cfg.TimeThreshold.Milliseconds(),
			Target:          s.targetTypes[h.Name()],
		})
	}
	return result
}

func (s *Service) recent(params []json.RawMessage) (interface{}, *jsonrpc.Error) {
	if s.history == nil {
		return []history.Record{}, nil
	}
	if len(params) > 1 {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected at most 1 param [limit]")
	}

	limit := 0
	if len(params) == 1 {
		if err := json.Unmarshal(params[0], &limit); err != nil || limit < 0 {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "limit must be a non-negative integer")
		}
	}
	return s.history.Recent(limit), nil
}

func (s *Service) sweep(ctx context.Context) (interface{}, *jsonrpc.Error) {
	if s.sweeper == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "sweeper not configured")
	}

	result, ok := s.sweeper.SweepNow(context.WithoutCancel(ctx))
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeSweepInProgress, "sweep already in progress")
	}

	report := SweepReport{
		Scanned:   result.Scanned,
		Delivered: result.Delivered,
		Async:     result.Async,
	}
	if result.Err != nil {
		report.Error = result.Err.Error()
	}
	return report, nil
}
