package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("assistant_not_configured")
	ErrUnavailable   = errors.New("assistant_unavailable")
	ErrEmptyRequest  = errors.New("assistant_empty_request")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Attachment references media the transport already downloaded.
type Attachment struct {
	Kind     string  `json:"kind"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

type Request struct {
	UserID      int64        `json:"user_id"`
	Model       string       `json:"model,omitempty"`
	History     []Message    `json:"history"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Reply struct {
	Text         string  `json:"text"`
	InputTokens  int64   `json:"in_tokens"`
	OutputTokens int64   `json:"out_tokens"`
	WantsVoice   bool    `json:"wants_voice"`
	VoiceSeconds float64 `json:"voice_seconds"`
}

// Backend is the external conversational model.
type Backend interface {
	Submit(ctx context.Context, req Request) (Reply, error)
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type httpBackend struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func New(p Params) Backend {
	return NewHTTPBackend(p.Config.AssistantURL, &http.Client{Timeout: p.Config.AssistantTimeout}, p.Log)
}

func NewHTTPBackend(url string, client *http.Client, log *zap.Logger) Backend {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &httpBackend{
		url:    strings.TrimSpace(url),
		client: client,
		log:    log.Named("assistant.client"),
	}
}

func (b *httpBackend) Submit(ctx context.Context, req Request) (Reply, error) {
	if b.url == "" {
		return Reply{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return Reply{}, ErrEmptyRequest
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return Reply{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(raw))
	if err != nil {
		return Reply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b.log.Warn("assistant request rejected", zap.Int("status_code", resp.StatusCode), zap.Int64("user_id", req.UserID))
		return Reply{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if reply.InputTokens < 0 || reply.OutputTokens < 0 || reply.VoiceSeconds < 0 {
		return Reply{}, fmt.Errorf("%w: negative usage", ErrUnavailable)
	}
	return reply, nil
}
