// Package apiclient, sunucunun durable store ve token API'sine HTTP ile ulaşan client.
//
// services.ChatStore, services.SessionConfigStore ve transport.TokenSource
// interface'lerini karşılar; böylece client süreci uzaktaki bir sunucuya karşı çalışır.
// Hata yanıtları pkg sentinel error'larına çevrilir (404 → pkg.ErrNotFound vb.),
// çağıranlar errors.Is ile karşılaştırabilir.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

// maxResponseSize, okunacak yanıt body'si için üst sınır.
const maxResponseSize = 4 << 20

// Client, sunucu API client'ı.
type Client struct {
	baseURL string
	http    *http.Client
}

// New, baseURL (ör. "http://localhost:9090") için client oluşturur.
// httpClient nil ise verilen timeout'lu yeni bir client kullanılır.
func New(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ─── Chat ───

func (c *Client) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	return c.do(ctx, http.MethodPost, sessionPath(msg.SessionID, "messages"), msg, nil)
}

func (c *Client) InsertReaction(ctx context.Context, r *models.Reaction) error {
	return c.do(ctx, http.MethodPost, sessionPath(r.SessionID, "reactions"), r, nil)
}

func (c *Client) ListMessages(ctx context.Context, sessionID, beforeID string, limit int) (*models.ChatPage, error) {
	q := url.Values{}
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := sessionPath(sessionID, "messages")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.ChatPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ─── Session config ───

func (c *Client) GetSessionConfig(ctx context.Context, sessionID string) (*models.SessionConfig, error) {
	var cfg models.SessionConfig
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "config"), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) UpsertSessionConfig(ctx context.Context, cfg *models.SessionConfig) error {
	return c.do(ctx, http.MethodPut, sessionPath(cfg.SessionID, "config"), cfg, nil)
}

// ─── Token ───

func (c *Client) VoiceToken(ctx context.Context, req models.VoiceTokenRequest) (*models.VoiceTokenResponse, error) {
	var resp models.VoiceTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/voice/token", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func sessionPath(sessionID, resource string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/" + resource
}

// do, isteği gönderir ve pkg.APIResponse zarfını açar. out nil ise data yoksayılır.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: %s %s: status %d", pkg.ErrorForStatus(resp.StatusCode), method, path, resp.StatusCode)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return fmt.Errorf("%w: %s", pkg.ErrorForStatus(resp.StatusCode), env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
