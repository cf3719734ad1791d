// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package signalk

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrAccessDenied = errors.New("signalk: access request denied")

type discoveryResponse struct {
	Endpoints map[string]struct {
		Version string `json:"version"`
		HTTP    string `json:"signalk-http"`
		WS      string `json:"signalk-ws"`
	} `json:"endpoints"`
}

// Discover asks the server at baseURL (http://host:port) for its v1
// stream endpoint. Servers that omit it get the conventional path.
func Discover(ctx context.Context, hc *http.Client, baseURL string) (string, error) {
	var resp discoveryResponse
	if err := getJSON(ctx, hc, strings.TrimRight(baseURL, "/")+"/signalk", &resp); err != nil {
		return "", fmt.Errorf("signalk discovery: %w", err)
	}
	if v1, ok := resp.Endpoints["v1"]; ok && v1.WS != "" {
		return v1.WS, nil
	}
	return StreamURL(baseURL)
}

// StreamURL derives ws://host:port/signalk/v1/stream from an http base URL.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/signalk/v1/stream"
	return u.String(), nil
}

type accessRequest struct {
	ClientID    string `json:"clientId"`
	Description string `json:"description"`
	Permissions string `json:"permissions"`
}

type accessState struct {
	State         string `json:"state"`
	RequestID     string `json:"requestId"`
	Href          string `json:"href"`
	StatusCode    int    `json:"statusCode"`
	AccessRequest struct {
		Permission string `json:"permission"`
		Token      string `json:"token"`
	} `json:"accessRequest"`
}

// RequestAccess files a device access request and polls it until an
// operator approves or denies it on the server. It returns the token.
func RequestAccess(ctx context.Context, hc *http.Client, baseURL, clientID, description string, poll time.Duration) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	body, err := json.Marshal(accessRequest{
		ClientID:    clientID,
		Description: description,
		Permissions: "readwrite",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/signalk/v1/access/requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := httpClient(hc).Do(req)
	if err != nil {
		return "", fmt.Errorf("signalk access request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted && res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signalk access request: HTTP %d", res.StatusCode)
	}

	var state accessState
	if err := json.NewDecoder(res.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("signalk access request: %w", err)
	}
	if state.Href == "" {
		return "", fmt.Errorf("signalk access request: no href in response")
	}

	ticker := time.NewTicker(cmp.Or(poll, 5*time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var st accessState
		if err := getJSON(ctx, hc, base+state.Href, &st); err != nil {
			return "", fmt.Errorf("signalk access poll: %w", err)
		}
		if st.State != "COMPLETED" {
			continue
		}
		if st.AccessRequest.Permission != "APPROVED" {
			return "", ErrAccessDenied
		}
		return st.AccessRequest.Token, nil
	}
}

func getJSON(ctx context.Context, hc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	res, err := httpClient(hc).Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func httpClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return &http.Client{Timeout: 5 * time.Second}
}
