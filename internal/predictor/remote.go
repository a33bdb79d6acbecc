package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const defaultRemoteTimeout = 30 * time.Second

// RemoteConfig configures a Remote predictor.
type RemoteConfig struct {
	// URL receives a POST of {"tokens": [...], "mask": [...]} and answers
	// with {"logits": [...]}.
	URL     string
	Timeout time.Duration
	Client  *http.Client
	// VocabSize, when set, is reported to the decode loop so it can check
	// the logits width.
	VocabSize int
}

// Remote scores sequences with a model served over HTTP.
type Remote struct {
	url    string
	client *http.Client
	vocab  int
}

type remoteRequest struct {
	Tokens []int `json:"tokens"`
	Mask   []int `json:"mask"`
}

type remoteResponse struct {
	Logits []float32 `json:"logits"`
	Error  string    `json:"error,omitempty"`
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("remote predictor: url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRemoteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{url: url, client: client, vocab: cfg.VocabSize}, nil
}

// VocabSize returns 0 when the width is unknown.
func (p *Remote) VocabSize() int { return p.vocab }

func (p *Remote) Predict(ctx context.Context, tokens, mask []int) ([]float32, error) {
	body, err := json.Marshal(remoteRequest{Tokens: tokens, Mask: mask})
	if err != nil {
		return nil, fmt.Errorf("remote predictor: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote predictor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote predictor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote predictor: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("remote predictor: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("remote predictor: %s", decoded.Error)
	}
	if len(decoded.Logits) == 0 {
		return nil, errors.New("remote predictor: empty logits returned")
	}
	return decoded.Logits, nil
}
