package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request proxies a GET or POST for the assistant. JSON responses are
// re-encoded compactly; anything else is returned verbatim.
func (e *Extractor) Request(ctx context.Context, args APIRequestArgs) Result {
	method := strings.ToUpper(strings.TrimSpace(args.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch method {
	case http.MethodGet:
	case http.MethodPost:
		payload, err := args.Payload()
		if err != nil {
			return Failure(APIRequest, args.URL, err)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return Failure(APIRequest, args.URL, fmt.Errorf("encode payload: %w", err))
		}
		body = bytes.NewReader(raw)
	default:
		return Failure(APIRequest, args.URL, fmt.Errorf("unsupported method %q", args.Method))
	}

	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return Failure(APIRequest, args.URL, err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Failure(APIRequest, args.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body)
	if err != nil {
		return Failure(APIRequest, args.URL, err)
	}
	text := compactJSON(respBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(APIRequest, args.URL, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, text))
	}
	e.logger.Info("api request", "method", method, "url", args.URL, "status", resp.StatusCode)
	return OK(text)
}

func compactJSON(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return string(raw)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(raw)
	}
	return buf.String()
}
