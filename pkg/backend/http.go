package backend

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

	"github.com/google/uuid"

	"github.com/nazeru/donutshop-go/internal/catalog"
	"github.com/nazeru/donutshop-go/pkg/idempotency"
)

// HTTP talks to the reservation-service. It implements Client.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type insertReservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

func (h *HTTP) InsertReservation(ctx context.Context, fields ReservationFields) (string, error) {
	var resp insertReservationResponse
	headers := map[string]string{idempotency.Header: uuid.NewString()}
	if err := h.postJSON(ctx, "/reservations", fields, headers, &resp); err != nil {
		return "", err
	}
	return resp.ReservationID, nil
}

type insertItemsRequest struct {
	Items []ReservationItemRow `json:"items"`
}

func (h *HTTP) InsertReservationItems(ctx context.Context, rows []ReservationItemRow) error {
	return h.postJSON(ctx, "/reservation-items", insertItemsRequest{Items: rows}, nil, nil)
}

func (h *HTTP) ReadProducts(ctx context.Context, filter ProductFilter) ([]catalog.Product, error) {
	q := url.Values{}
	if filter.Kind != "" {
		q.Set("kind", filter.Kind)
	}
	var out []catalog.Product
	if err := h.getJSON(ctx, "/products", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) ReadStores(ctx context.Context, filter StoreFilter) ([]catalog.Store, error) {
	q := url.Values{}
	if filter.City != "" {
		q.Set("city", filter.City)
	}
	var out []catalog.Store
	if err := h.getJSON(ctx, "/stores", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) postJSON(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return h.do(req, out)
}

func (h *HTTP) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := h.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return h.do(req, out)
}

func (h *HTTP) do(req *http.Request, out any) error {
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend status %d: %s", resp.StatusCode, backendError(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// backendError pulls the human-readable message out of an error body,
// falling back to the raw body.
func backendError(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
