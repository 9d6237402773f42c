package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client posts admin commands to the running daemon.
type Client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

func New(baseURL, adminKey string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether refreshes can be requested at all.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.adminKey != ""
}

// RefreshNow asks the daemon for a refresh and returns the queued job ID.
func (c *Client) RefreshNow() (string, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/admin/refresh", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-ADMIN-KEY", c.adminKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		JobID string `json:"jobId"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh: status %d %s", resp.StatusCode, body.Error)
	}
	return body.JobID, nil
}
