package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultSourceURL = "https://mindicador.cl/api/uf"
	DefaultTimeout   = 10 * time.Second
)

var ErrEmptySeries = errors.New("rate source returned an empty series")

// Source fetches the rate effective today.
type Source interface {
	FetchCurrentRate(ctx context.Context) (Snapshot, error)
}

// MindicadorSource reads the UF series published by mindicador.cl.
// The first element of "serie" is the most recent observation.
type MindicadorSource struct {
	URL    string
	Client *http.Client
}

func NewMindicadorSource(url string, timeout time.Duration) *MindicadorSource {
	if url == "" {
		url = DefaultSourceURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MindicadorSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

type mindicadorResponse struct {
	Serie []struct {
		Fecha string      `json:"fecha"`
		Valor json.Number `json:"valor"`
	} `json:"serie"`
}

func (m *MindicadorSource) FetchCurrentRate(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Snapshot{}, fmt.Errorf("fetch rate: unexpected status %s", resp.Status)
	}

	var body mindicadorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("decode rate: %w", err)
	}
	if len(body.Serie) == 0 {
		return Snapshot{}, ErrEmptySeries
	}

	latest := body.Serie[0]
	value, err := decimal.NewFromString(latest.Valor.String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("rate value %q: %w", latest.Valor, err)
	}
	if !value.IsPositive() {
		return Snapshot{}, fmt.Errorf("rate value %s is not positive", value)
	}
	day, _, _ := strings.Cut(latest.Fecha, "T")
	date, err := time.Parse("2006-01-02", day)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rate date %q: %w", latest.Fecha, err)
	}
	return Snapshot{Value: value, Date: date}, nil
}
