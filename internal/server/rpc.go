package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/copyleftdev/annealer/internal/errors"
)

// rpcRequest is a JSON-RPC 2.0 request. Params may be an object or an
// array holding a single object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcMethod func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (s *Server) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"optimization.start": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req OptimizeRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.startOptimization(ctx, req)
		},
		"optimization.status": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req IDRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.optimizationStatus(ctx, req)
		},
		"optimization.result": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req IDRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.optimizationResult(ctx, req)
		},
		"optimization.cancel": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req IDRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.cancelOptimization(ctx, req)
		},
		"optimization.delete": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req IDRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			if err := s.deleteOptimization(ctx, req); err != nil {
				return nil, err
			}
			return map[string]bool{"deleted": true}, nil
		},
		"optimization.list": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req ListRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.listOptimizations(ctx, req)
		},
		"problem.evaluate": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req EvaluateRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.evaluate(ctx, req)
		},
		"schedule.preview": func(ctx context.Context, p json.RawMessage) (interface{}, error) {
			var req ScheduleRequest
			if err := decodeParams(p, &req); err != nil {
				return nil, err
			}
			return s.previewSchedule(ctx, req)
		},
		"presets.list": func(context.Context, json.RawMessage) (interface{}, error) {
			return s.catalog.List(), nil
		},
	}
}

// decodeParams accepts {"k": v} or [{"k": v}]. Missing params decode as an
// empty object.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("%w: params: %v", apperrors.ErrInvalidInput, err)
		}
		switch len(list) {
		case 0:
			raw = []byte("{}")
		case 1:
			raw = list[0]
		default:
			return fmt.Errorf("%w: params must hold a single object, got %d", apperrors.ErrInvalidInput, len(list))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: params: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Errors are reported in the
// response body with HTTP 200.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondRPCError(w, r, nil, apperrors.CodeParseError, "Parse error")
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondRPCError(w, r, request.ID, apperrors.CodeInvalidRequest, "Invalid Request")
		return
	}

	method, ok := s.rpcMethods()[request.Method]
	if !ok {
		s.respondRPCError(w, r, request.ID, apperrors.CodeMethodNotFound, "Method not found")
		return
	}

	result, err := method(r.Context(), request.Params)
	if err != nil {
		e := apperrors.FromError(err)
		apperrors.Log(s.requestLogger(r.Context()), e, map[string]interface{}{
			"rpc_method": request.Method,
		})
		s.writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			ID:      request.ID,
			Error:   &rpcError{Code: e.Code, Message: e.Public()},
		})
		return
	}

	s.writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: request.ID, Result: result})
}

// respondRPCError sends a JSON-RPC 2.0 protocol error response.
func (s *Server) respondRPCError(w http.ResponseWriter, r *http.Request, id interface{}, code int, message string) {
	s.requestLogger(r.Context()).Debug("Invalid JSON-RPC request", map[string]interface{}{
		"code":    code,
		"message": message,
	})
	s.writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func (s *Server) writeRPC(w http.ResponseWriter, resp rpcResponse) {
	s.respond(w, http.StatusOK, resp)
}
