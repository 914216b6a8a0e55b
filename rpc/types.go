// Package rpc exposes chain and game state via a JSON-RPC 2.0 HTTP endpoint,
// a few REST reads, and a websocket event stream.
package rpc

import (
	"encoding/json"
	"errors"

	errorsmod "cosmossdk.io/errors"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/zk/local"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Data carries the registered
// codespace and code when the failure has one.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData identifies a registered error.
type ErrorData struct {
	Codespace string `json:"codespace"`
	Code      uint32 `json:"code"`
}

// Standard JSON-RPC error codes plus server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
	CodeRejected       = -32002
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// errFrom maps an error to a JSON-RPC error, keeping registered codes.
func errFrom(id any, err error) Response {
	code := CodeInternalError
	var data *ErrorData
	if space, abci, _ := errorsmod.ABCIInfo(err, false); space != errorsmod.UndefinedCodespace {
		code = CodeRejected
		data = &ErrorData{Codespace: space, Code: abci}
	}
	if isNotFound(err) {
		code = CodeNotFound
	}
	resp := errResponse(id, code, err.Error())
	resp.Error.Data = data
	return resp
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrGameNotFound) ||
		errors.Is(err, core.ErrUnknownVariable) ||
		errors.Is(err, local.ErrNoPendingInput)
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
