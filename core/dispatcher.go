package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAccept          = "application/json"
	DefaultContentType     = "application/json"
	DefaultDispatchTimeout = 30 * time.Second
)

var supportedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
	http.MethodHead:   {},
}

type BuildRequestInput struct {
	Auth          AuthRequest
	VendorKey     string
	VendorHeaders map[string]string
	Method        string
	URL           string
	Headers       map[string]string
	Query         map[string]string
	Body          []byte
	Connector     string
	Operation     string
}

// Dispatcher builds, sends, and classifies vendor requests.
type Dispatcher struct {
	sender      Sender
	classifier  Classifier
	accept      string
	contentType string
	timeout     time.Duration
}

func NewDispatcher(sender Sender, classifier Classifier, cfg DispatchConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		sender:      sender,
		classifier:  classifier,
		accept:      defaultString(cfg.Accept, DefaultAccept),
		contentType: defaultString(cfg.ContentType, DefaultContentType),
		timeout:     timeout,
	}
}

// BuildRequest merges invariant headers, vendor headers, caller headers, and
// authentication, in that order of precedence. It performs no I/O.
func (d *Dispatcher) BuildRequest(in BuildRequestInput) (Request, error) {
	method := strings.TrimSpace(strings.ToUpper(in.Method))
	if method == "" {
		method = http.MethodGet
	}
	if _, ok := supportedMethods[method]; !ok {
		return Request{}, fmt.Errorf("core: unsupported http method %q", in.Method)
	}
	rawURL := strings.TrimSpace(in.URL)
	if rawURL == "" {
		return Request{}, fmt.Errorf("core: request url is required")
	}
	if _, err := url.Parse(rawURL); err != nil {
		return Request{}, fmt.Errorf("core: invalid request url: %w", err)
	}

	accept, contentType := DefaultAccept, DefaultContentType
	timeout := DefaultDispatchTimeout
	if d != nil {
		accept, contentType, timeout = d.accept, d.contentType, d.timeout
	}

	headers := map[string]string{
		"Accept":       accept,
		"Content-Type": contentType,
	}
	mergeHeaders(headers, in.VendorHeaders)
	mergeHeaders(headers, in.Headers)
	mergeHeaders(headers, in.Auth.Headers)

	query := copyStringMap(in.Query)
	for key, value := range in.Auth.Query {
		query[key] = value
	}

	return Request{
		Method:    method,
		URL:       rawURL,
		Headers:   headers,
		Query:     query,
		Body:      append([]byte(nil), in.Body...),
		Timeout:   timeout,
		Connector: strings.TrimSpace(in.Connector),
		Operation: strings.TrimSpace(in.Operation),
		VendorKey: strings.TrimSpace(in.VendorKey),
	}, nil
}

// Send delegates to the Sender and classifies whatever it produced.
func (d *Dispatcher) Send(ctx context.Context, req Request) RetryDecision {
	if d == nil || d.sender == nil {
		return Fatal(NewFatalError(&FatalError{
			Connector: req.Connector,
			Operation: req.Operation,
			Cause:     fmt.Errorf("core: sender is required"),
		}))
	}
	if req.Timeout <= 0 {
		req.Timeout = d.timeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	response, err := d.sender.Send(sendCtx, req)
	return d.classifier.Classify(Outcome{Request: req, Response: response, Err: err})
}

// EvaluateStatus classifies a status code together with its body, since some
// vendors embed structured errors in 200 responses.
func (d *Dispatcher) EvaluateStatus(statusCode int, body []byte) RetryDecision {
	classifier := Classifier{}
	if d != nil {
		classifier = d.classifier
	}
	return classifier.Classify(Outcome{Response: Response{StatusCode: statusCode, Body: body}})
}

func mergeHeaders(dst map[string]string, src map[string]string) {
	for key, value := range src {
		key = http.CanonicalHeaderKey(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		dst[key] = value
	}
}
