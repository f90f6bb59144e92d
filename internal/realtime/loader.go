package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"client-portal/internal/model"
)

// Loader fetches the full current row set for a table.
type Loader interface {
	Load(ctx context.Context, table string) ([]model.Row, error)
}

// HTTPLoader reads rows from the portal's list endpoint.
type HTTPLoader struct {
	// BaseURL is the server root, e.g. http://localhost:3000.
	BaseURL string
	Token   string
	Client  *http.Client
}

func (l *HTTPLoader) Load(ctx context.Context, table string) ([]model.Row, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := strings.TrimRight(l.BaseURL, "/") + "/api/" + url.PathEscape(table)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if l.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("load %s: status %d: %s", table, resp.StatusCode, body.Error)
	}

	var body map[string][]model.Row
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("load %s: decode: %w", table, err)
	}
	rows := body[table]
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}
