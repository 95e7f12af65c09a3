// Package mcp implements the Model Context Protocol server for CiteLoom.
// It exposes the ingestion and retrieval surface to AI clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Tool-protocol error codes. These are the wire codes; internal error codes
// map onto them in MapError.
const (
	CodeInvalidProject     = "INVALID_PROJECT"
	CodeEmbeddingMismatch  = "EMBEDDING_MISMATCH"
	CodeHybridNotSupported = "HYBRID_NOT_SUPPORTED"
	CodeIndexUnavailable   = "INDEX_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnknownTool        = "UNKNOWN_TOOL"
	CodeInternalError      = "INTERNAL_ERROR"
)

// ToolError is a tool-protocol error with its wire code and optional details.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope is the JSON error shape every failed tool call returns.
type Envelope struct {
	Error ToolError `json:"error"`
}

// NewToolError creates a ToolError without details.
func NewToolError(code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

// errUnknownTool builds the UNKNOWN_TOOL error for a tool name.
func errUnknownTool(name string) *ToolError {
	return &ToolError{
		Code:    CodeUnknownTool,
		Message: fmt.Sprintf("unknown tool %q", name),
	}
}

// MapError converts an internal error into its tool-protocol envelope error.
// Context expiry maps to TIMEOUT regardless of how deep it surfaced.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ToolError{Code: CodeTimeout, Message: "request deadline exceeded"}
	}

	var ce *citeerrors.CiteError
	if errors.As(err, &ce) {
		return &ToolError{
			Code:    wireCode(ce.Code),
			Message: ce.Message,
			Details: ce.Details,
		}
	}

	return &ToolError{Code: CodeInternalError, Message: err.Error()}
}

// wireCode maps internal error codes to tool-protocol codes.
func wireCode(code string) string {
	switch code {
	case citeerrors.ErrCodeProjectNotFound:
		return CodeInvalidProject
	case citeerrors.ErrCodeEmbeddingMismatch:
		return CodeEmbeddingMismatch
	case citeerrors.ErrCodeHybridNotSupported:
		return CodeHybridNotSupported
	case citeerrors.ErrCodeIndexUnavailable, citeerrors.ErrCodeUpsertFailed:
		return CodeIndexUnavailable
	case citeerrors.ErrCodeNetworkTimeout, citeerrors.ErrCodeDocumentTimeout:
		return CodeTimeout
	case citeerrors.ErrCodeInvalidInput, citeerrors.ErrCodeConfigMissing, citeerrors.ErrCodeConfigInvalid:
		return CodeInvalidInput
	default:
		return CodeInternalError
	}
}

// errorResult renders a ToolError as a failed tool call carrying the JSON
// error envelope, so clients always see the same error shape.
func errorResult(toolErr *ToolError) *sdk.CallToolResult {
	data, err := json.Marshal(Envelope{Error: *toolErr})
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, toolErr.Code, toolErr.Message))
	}
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}
}
