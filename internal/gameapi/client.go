package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// Call timeouts by criticality. Player polling is hot-path and gives up
// fast; spawn batches can place dozens of objects in one call.
const (
	readTimeout    = 2 * time.Second
	listTimeout    = 5 * time.Second
	commandTimeout = 10 * time.Second
	batchTimeout   = 50 * time.Second
)

// Client handles communication with the game server's HTTP API.
// All commands are best-effort: a non-2xx response is an error for the
// caller to log, never to retry inline.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// New creates a new game API client.
func New(baseURL, password string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		password:   password,
		httpClient: &http.Client{},
	}
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.password != "" {
		u += "?" + url.Values{"password": {c.password}}.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

type playersResponse struct {
	Succeed bool           `json:"succeed"`
	Data    []model.Player `json:"data"`
}

// Players fetches the current player list.
func (c *Client) Players(ctx context.Context) ([]model.Player, error) {
	var resp playersResponse
	if err := c.getJSON(ctx, "/players", readTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type vehiclesResponse struct {
	Succeed bool               `json:"succeed"`
	Data    []model.NPCVehicle `json:"data"`
}

// Vehicles fetches the current AI vehicle list.
func (c *Client) Vehicles(ctx context.Context) ([]model.NPCVehicle, error) {
	var resp vehiclesResponse
	if err := c.getJSON(ctx, "/vehicles", listTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type garagesResponse struct {
	Succeed bool           `json:"succeed"`
	Data    []model.Garage `json:"data"`
}

// Garages fetches the current garage locations.
func (c *Client) Garages(ctx context.Context) ([]model.Garage, error) {
	var resp garagesResponse
	if err := c.getJSON(ctx, "/garages", listTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Healthcheck checks if the game server API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.getJSON(ctx, "/players", readTimeout, nil)
}

// EjectPlayer removes the player from their current vehicle.
func (c *Client) EjectPlayer(ctx context.Context, uniqueID string) error {
	body := map[string]string{"unique_id": uniqueID}
	return c.postJSON(ctx, "/player/eject", commandTimeout, body, nil)
}

// AdjustMoney applies a currency delta to the player's balance with a
// visible reason. Negative amounts are fines; the server clamps balances
// at zero.
func (c *Client) AdjustMoney(ctx context.Context, uniqueID string, amount int64, reason string) error {
	body := map[string]any{
		"unique_id": uniqueID,
		"amount":    amount,
		"reason":    reason,
	}
	return c.postJSON(ctx, "/player/money", commandTimeout, body, nil)
}

// SendMessage shows a popup message to a single player.
func (c *Client) SendMessage(ctx context.Context, uniqueID, message string) error {
	body := map[string]string{
		"unique_id": uniqueID,
		"message":   message,
	}
	return c.postJSON(ctx, "/player/message", commandTimeout, body, nil)
}

// Announce broadcasts a chat announcement to every player.
func (c *Client) Announce(ctx context.Context, message string, pinned bool) error {
	body := map[string]any{
		"message": message,
		"pinned":  pinned,
	}
	return c.postJSON(ctx, "/chat/announce", commandTimeout, body, nil)
}

type spawnResponse struct {
	Succeed bool     `json:"succeed"`
	Tags    []string `json:"tags"`
}

// SpawnAssets places the declared map assets and returns the tags the
// server assigned to them.
func (c *Client) SpawnAssets(ctx context.Context, assets []model.AssetPlacement) ([]string, error) {
	body := map[string]any{"assets": assets}
	var resp spawnResponse
	if err := c.postJSON(ctx, "/assets/spawn", batchTimeout, body, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

// DespawnAssets removes every object carrying one of the given tags in a
// single batched call.
func (c *Client) DespawnAssets(ctx context.Context, tags []string) error {
	body := map[string]any{"tags": tags}
	return c.postJSON(ctx, "/assets/despawn", batchTimeout, body, nil)
}

// SpawnDealerVehicles places the declared dealership vehicles and returns
// their assigned tags.
func (c *Client) SpawnDealerVehicles(ctx context.Context, vehicles []model.DealerVehicle) ([]string, error) {
	body := map[string]any{"vehicles": vehicles}
	var resp spawnResponse
	if err := c.postJSON(ctx, "/dealer/spawn", batchTimeout, body, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}
