package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rahul/planpilot/internal/plan"
)

// maxBodyBytes caps how much of a function response is read.
const maxBodyBytes = 4 << 20

// maxSnippet bounds the body excerpt carried by a TransportError.
const maxSnippet = 300

// TransportError reports a failed call to the action function. StatusCode is
// zero when no HTTP response was received.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("action function returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("action function unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPInvoker posts step prompts to a backend function.
type HTTPInvoker struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewHTTPInvoker builds an invoker with the given per-call timeout.
func NewHTTPInvoker(url string, timeout time.Duration, headers map[string]string) (*HTTPInvoker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("action: function url is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPInvoker{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: timeout},
	}, nil
}

type invokeBody struct {
	StepID    string `json:"stepId"`
	Prompt    string `json:"prompt"`
	ProjectID string `json:"projectId,omitempty"`
}

type invokeReply struct {
	RawResult *string `json:"rawResult"`
	Result    *string `json:"result"`
}

// Invoke sends {stepId, prompt, projectId} and returns the rawResult field of
// the reply. A reply that is not a JSON object is returned verbatim.
func (h *HTTPInvoker) Invoke(ctx context.Context, req plan.ActionRequest) (plan.ActionResponse, error) {
	payload, err := json.Marshal(invokeBody{StepID: req.StepID, Prompt: req.Prompt, ProjectID: req.ProjectID})
	if err != nil {
		return plan.ActionResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return plan.ActionResponse{}, &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range h.Headers {
		httpReq.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return plan.ActionResponse{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return plan.ActionResponse{}, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return plan.ActionResponse{}, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(snippet(body)),
		}
	}

	return plan.ActionResponse{RawResult: decodeReply(body)}, nil
}

func decodeReply(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(body)
	}
	var reply invokeReply
	if err := json.Unmarshal(trimmed, &reply); err != nil {
		return string(body)
	}
	switch {
	case reply.RawResult != nil:
		return *reply.RawResult
	case reply.Result != nil:
		return *reply.Result
	default:
		// Unknown shape; the classifier judges the whole object.
		return string(body)
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response body"
	}
	if len(s) > maxSnippet {
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
