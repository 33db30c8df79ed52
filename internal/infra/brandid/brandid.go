// Package brandid is a thin client for the external brand-identification
// service that screens products for potential brand violations.
package brandid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type identifyRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
}

type identifyResponse struct {
	Flagged bool `json:"flagged"`
}

func (c *Client) IdentifyBrand(ctx context.Context, userID, productID int64) (bool, error) {
	body, err := json.Marshal(identifyRequest{UserID: userID, ProductID: productID})
	if err != nil {
		return false, fmt.Errorf("encode identify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build identify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("identify brand %d:%d: %w", userID, productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identify brand %d:%d: status %d", userID, productID, resp.StatusCode)
	}

	var out identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode identify response: %w", err)
	}
	return out.Flagged, nil
}
