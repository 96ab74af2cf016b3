// Package cmd provides the operator-facing subcommands that run beside the
// daemon: GDL introspection over the query API and offline rule-file
// validation.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// apiClient is a minimal client for the daemon's query API, shared by the
// query and list subcommands.
type apiClient struct {
	server   string
	username string
	password string
	http     *http.Client
}

func newAPIClient(server, username, password string) *apiClient {
	return &apiClient{
		server:   server,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// getJSON fetches path (with query values) and decodes the response into
// out.
func (c *apiClient) getJSON(path string, query url.Values, out any) error {
	u := c.server + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned %s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
