package openai

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/openai/openai-go/v3/option"
)

// errorBodyMiddleware keeps the details of error responses from
// OpenAI-compatible servers that do not use the {"error": {...}} shape.
//
// The SDK only extracts the "error" object from error bodies, so plain text
// or differently shaped bodies are rewritten to {"error": <body>}.
func errorBodyMiddleware() option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil || resp.StatusCode < 400 {
			return resp, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || hasErrorObject(body) {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return resp, nil
		}

		wrapped := wrapErrorBody(body, resp.StatusCode)
		resp.Body = io.NopCloser(bytes.NewReader(wrapped))
		resp.ContentLength = int64(len(wrapped))
		return resp, nil
	}
}

func hasErrorObject(body []byte) bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	errVal := bytes.TrimSpace(raw["error"])
	return len(errVal) > 0 && errVal[0] == '{'
}

func wrapErrorBody(body []byte, statusCode int) []byte {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte(http.StatusText(statusCode))
	}
	if json.Valid(body) {
		return append(append([]byte(`{"error":`), body...), '}')
	}
	wrapped, err := json.Marshal(map[string]any{
		"error": map[string]any{"message": string(body)},
	})
	if err != nil {
		return body
	}
	return wrapped
}
