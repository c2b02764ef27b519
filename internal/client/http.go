package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"oceandepths/internal/protocol"
)

// HTTPAuthority talks to the server's /v1 endpoints.
type HTTPAuthority struct {
	base     string
	playerID string
	http     *http.Client
}

func NewHTTPAuthority(base, playerID string) *HTTPAuthority {
	return &HTTPAuthority{
		base:     base,
		playerID: playerID,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAuthority) Bootstrap(ctx context.Context) (protocol.BootstrapResponse, error) {
	var out protocol.BootstrapResponse
	err := a.do(ctx, http.MethodPost, "/v1/bootstrap", protocol.BootstrapRequest{}, &out)
	return out, err
}

func (a *HTTPAuthority) StartAction(ctx context.Context, req protocol.ActionStartRequest) (protocol.ActionStartResponse, error) {
	var out protocol.ActionStartResponse
	err := a.do(ctx, http.MethodPost, "/v1/actions/start", req, &out)
	return out, err
}

func (a *HTTPAuthority) CompleteAction(ctx context.Context, actionID string) (protocol.ActionCompleteResponse, error) {
	var out protocol.ActionCompleteResponse
	err := a.do(ctx, http.MethodPost, "/v1/actions/complete", protocol.ActionCompleteRequest{ActionID: actionID}, &out)
	return out, err
}

func (a *HTTPAuthority) CancelAction(ctx context.Context, actionID string) (protocol.ActionCancelResponse, error) {
	var out protocol.ActionCancelResponse
	err := a.do(ctx, http.MethodPost, "/v1/actions/cancel/"+actionID, nil, &out)
	return out, err
}

func (a *HTTPAuthority) SyncResources(ctx context.Context, req protocol.ResourceSyncRequest) (protocol.ResourceSyncResponse, error) {
	var out protocol.ResourceSyncResponse
	err := a.do(ctx, http.MethodPost, "/v1/resources/sync", req, &out)
	return out, err
}

func (a *HTTPAuthority) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Player-ID", a.playerID)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e protocol.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Code != "" {
			return protocol.Errf(e.Code, e.Message)
		}
		return fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
