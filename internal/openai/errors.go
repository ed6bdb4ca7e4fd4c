package openai

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrAnnotationsUnsupported is returned when a text content block carries
// annotations; annotation rendering is not implemented.
var ErrAnnotationsUnsupported = errors.New("openai: message annotations are not supported")

// APIError is a protocol-level error decoded from a non-2xx response body.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Param      string `json:"param,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// errorResponse mirrors the {"error": {...}} envelope. The message field is
// occasionally an array of strings rather than a single string.
type errorResponse struct {
	Error *struct {
		Message json.RawMessage `json:"message"`
		Type    string          `json:"type"`
		Param   string          `json:"param"`
		Code    string          `json:"code"`
	} `json:"error"`
}

// ParseErrorResponse decodes an error body. It returns (nil, nil) when the
// body does not carry an error envelope.
func ParseErrorResponse(data []byte, statusCode int) (*APIError, error) {
	var resp errorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Error == nil {
		return nil, nil
	}

	apiErr := &APIError{
		StatusCode: statusCode,
		Type:       resp.Error.Type,
		Param:      resp.Error.Param,
		Code:       resp.Error.Code,
	}

	var msg string
	if err := json.Unmarshal(resp.Error.Message, &msg); err == nil {
		apiErr.Message = msg
		return apiErr, nil
	}
	var msgs []string
	if err := json.Unmarshal(resp.Error.Message, &msgs); err == nil {
		apiErr.Message = strings.Join(msgs, "\n")
		return apiErr, nil
	}
	apiErr.Message = string(resp.Error.Message)
	return apiErr, nil
}
