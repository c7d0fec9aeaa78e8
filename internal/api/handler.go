package api

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"batchable/internal/jsonrpc"
)

// Handler serves JSON-RPC requests over HTTP POST
type Handler struct {
	service     *Service
	maxBodySize int64
	logger      zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(service *Service, maxBodySize int64, logger zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, rpcErr := h.readBody(r)
	if rpcErr != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), rpcErr)
		return
	}

	requests, isBatch, err := jsonrpc.ParseBatchRequest(body)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	ctx := r.Context()
	if isBatch {
		responses := h.service.HandleBatch(ctx, requests)
		if len(responses) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeBatchResponse(w, responses)
		return
	}

	resp := h.service.Handle(ctx, requests[0])
	if resp == nil {
		// notification
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeResponse(w, resp)
}

func (h *Handler) readBody(r *http.Request) ([]byte, *jsonrpc.Error) {
	if h.maxBodySize <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request body too large")
	}
	return body, nil
}

// writeResponse writes a JSON-RPC response
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeBatchResponse writes a batch of JSON-RPC responses
func (h *Handler) writeBatchResponse(w http.ResponseWriter, responses []*jsonrpc.Response) {
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal batch response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *Handler) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, jsonrpc.NewErrorResponse(id, rpcErr))
}

// writeError writes a plain HTTP error
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
