package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-integrations/core"
)

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender performs dispatcher requests over net/http. Error statuses are
// returned as responses; only exchanges that never produced a response fail.
type HTTPSender struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewHTTPSender(client HTTPDoer) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPSender{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (s *HTTPSender) Send(ctx context.Context, req core.Request) (core.Response, error) {
	if s == nil || s.Client == nil {
		return core.Response{}, transportError(
			"transport: http sender requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := requestURL(req)
	if err != nil {
		return core.Response{}, err
	}
	meta := map[string]any{
		"method":    method,
		"url":       target,
		"vendor":    req.VendorKey,
		"operation": req.Operation,
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return core.Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest, meta)
	}
	for key, value := range s.DefaultHeaders {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}

	httpRes, err := s.Client.Do(httpReq)
	if err != nil {
		return core.Response{}, transportWrapError(err, goerrors.CategoryExternal, "transport: execute http request", http.StatusBadGateway, meta)
	}
	defer httpRes.Body.Close()

	limit := s.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		meta["status_code"] = httpRes.StatusCode
		return core.Response{}, transportWrapError(err, goerrors.CategoryExternal, "transport: read response body", http.StatusBadGateway, meta)
	}
	if int64(len(body)) > limit {
		meta["status_code"] = httpRes.StatusCode
		meta["response_limit_b"] = limit
		return core.Response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryInternal,
			http.StatusBadGateway,
			meta,
		)
	}

	return core.Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
	}, nil
}

func requestURL(req core.Request) (string, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", transportError("transport: request url is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", http.StatusBadRequest, map[string]any{"url": raw})
	}
	if len(req.Query) > 0 {
		query := parsed.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) != "" {
				query.Set(strings.TrimSpace(key), value)
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
