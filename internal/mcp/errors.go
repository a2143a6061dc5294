// Package mcp exposes the note engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodePageNotFound indicates the page does not exist.
	ErrCodePageNotFound = -32001

	// ErrCodeDegraded indicates a write was stored but not fully indexed.
	ErrCodeDegraded = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeInconsistent indicates index retries were exhausted.
	ErrCodeInconsistent = -32004

	// ErrCodeUnavailable indicates the engine is closed or locked.
	ErrCodeUnavailable = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if ne, ok := ngerrors.As(err); ok {
		return mapNoteError(ne)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapNoteError(ne *ngerrors.NoteError) *MCPError {
	message := ne.Message
	if ne.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ne.Message, ne.Suggestion)
	}
	out := &MCPError{Code: ErrCodeInternalError, Message: message}
	if len(ne.Details) > 0 {
		out.Data = make(map[string]string, len(ne.Details))
		for k, v := range ne.Details {
			out.Data[k] = v
		}
	}

	switch ne.Code {
	case ngerrors.ErrCodePageNotFound:
		out.Code = ErrCodePageNotFound
	case ngerrors.ErrCodeDegraded:
		out.Code = ErrCodeDegraded
	case ngerrors.ErrCodeIndexInconsistent:
		out.Code = ErrCodeInconsistent
	case ngerrors.ErrCodeClosed, ngerrors.ErrCodeLocked:
		out.Code = ErrCodeUnavailable
	case ngerrors.ErrCodeSearchFailed:
		if errors.Is(ne, context.DeadlineExceeded) || errors.Is(ne, context.Canceled) {
			out.Code = ErrCodeTimeout
		}
	default:
		if ne.Category == ngerrors.CategoryValidation {
			out.Code = ErrCodeInvalidParams
		}
	}
	return out
}
