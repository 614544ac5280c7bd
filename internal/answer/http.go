package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/retry"
)

// HTTPEngine implements Engine against the answer service's HTTP API.
type HTTPEngine struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	retryCfg retry.Config
}

// NewHTTPEngine creates an engine client for the service at baseURL.
func NewHTTPEngine(baseURL, apiKey string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPEngine{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		retryCfg: retry.Default(),
	}
}

type answerRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream,omitempty"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

func (e *HTTPEngine) Generate(ctx context.Context, question string) (string, error) {
	return retry.Do(ctx, e.retryCfg, func() (string, error) {
		body, err := e.doRequest(ctx, answerRequest{Question: question})
		if err != nil {
			return "", err
		}
		defer body.Close()

		var resp answerResponse
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return "", fmt.Errorf("answer: decode response: %w", err)
		}
		return resp.Answer, nil
	})
}

// Stream reads the SSE response line by line and reports accumulated text.
// Retry covers only the connection phase; once streaming starts, a failure
// surfaces to the caller with whatever was accumulated discarded by it.
func (e *HTTPEngine) Stream(ctx context.Context, question string, onChunk func(partial string)) (string, error) {
	body, err := retry.Do(ctx, e.retryCfg, func() (io.ReadCloser, error) {
		return e.doRequest(ctx, answerRequest{Question: question, Stream: true})
	})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var acc strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			return acc.String(), fmt.Errorf("answer: stream error: %s", ev.Error)
		}
		if ev.Delta != "" {
			acc.WriteString(ev.Delta)
			if onChunk != nil {
				onChunk(acc.String())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return acc.String(), fmt.Errorf("answer: read stream: %w", err)
	}

	return acc.String(), nil
}

type streamEvent struct {
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
}

func (e *HTTPEngine) doRequest(ctx context.Context, reqBody answerRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("answer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/v1/answers", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("answer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("answer: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("answer: %s", string(respBody)),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}
