// Package httpapi implements the speech capabilities against a JSON
// HTTP service exposing /v1/transcribe, /v1/synthesize, /v1/respond,
// and /v1/analyze.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
)

// Client implements speech.Transcriber, speech.Synthesizer,
// speech.Responder, and speech.Analyzer over HTTP.
type Client struct {
	config     *speech.Config
	httpClient *http.Client
}

var _ speech.Transcriber = (*Client)(nil)
var _ speech.Synthesizer = (*Client)(nil)
var _ speech.Responder = (*Client)(nil)
var _ speech.Analyzer = (*Client)(nil)

// New creates a client for the configured speech service.
func New(config *speech.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type transcribeRequest struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type transcribeResponse struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

type synthesizeResponse struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type respondRequest struct {
	Messages []prompt.Message `json:"messages"`
}

type respondResponse struct {
	Text string `json:"text"`
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	Sentiment string   `json:"sentiment"`
	Priority  string   `json:"priority"`
	Entities  []string `json:"entities,omitempty"`
}

// Transcribe sends concatenated PCM data for transcription. Results
// below the confidence floor return types.ErrLowConfidence.
func (c *Client) Transcribe(ctx context.Context, frames []audio.Frame) (*speech.Transcript, error) {
	var pcm []byte
	format := audio.Format{}
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
		format = f.Format
	}

	req := transcribeRequest{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
	var resp transcribeResponse
	if err := c.post(ctx, "/v1/transcribe", req, &resp); err != nil {
		return nil, err
	}

	if resp.Confidence < c.config.ConfidenceFloor {
		return nil, fmt.Errorf("%w: %.2f < %.2f", types.ErrLowConfidence, resp.Confidence, c.config.ConfidenceFloor)
	}
	return &speech.Transcript{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Entities:   resp.Entities,
	}, nil
}

// Synthesize converts text to a single PCM frame.
func (c *Client) Synthesize(ctx context.Context, text string) ([]audio.Frame, error) {
	var resp synthesizeResponse
	if err := c.post(ctx, "/v1/synthesize", synthesizeRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return []audio.Frame{{
		Data: data,
		Format: audio.Format{
			SampleRate: resp.SampleRate,
			Channels:   resp.Channels,
			Encoding:   "pcm_s16le",
		},
		Timestamp: time.Now(),
	}}, nil
}

// Respond hands an assembled prompt to the creative endpoint and
// returns the reply text.
func (c *Client) Respond(ctx context.Context, messages []prompt.Message) (string, error) {
	var resp respondResponse
	if err := c.post(ctx, "/v1/respond", respondRequest{Messages: messages}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Analyze returns advisory annotations for the given text.
func (c *Client) Analyze(ctx context.Context, text string) (*types.Annotation, error) {
	var resp analyzeResponse
	if err := c.post(ctx, "/v1/analyze", analyzeRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return &types.Annotation{
		Sentiment: resp.Sentiment,
		Priority:  resp.Priority,
		Entities:  resp.Entities,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", types.ErrServiceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech api %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
