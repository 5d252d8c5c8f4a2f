package baylinesdk

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
)

// Client is a minimal Bayline HTTP API client.
type Client struct {
	BaseURL     string
	CompanyID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, companyID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		CompanyID: companyID,
		Timeout:   10 * time.Second,
	}
}

// WorkOrder represents the API work order model (partial).
type WorkOrder struct {
	ID             string         `json:"id"`
	VehicleType    string         `json:"vehicle_type"`
	CompanyID      string         `json:"company_id"`
	VehicleStockID int64          `json:"vehicle_stock_id"`
	FieldID        string         `json:"field_id"`
	Mode           string         `json:"mode"`
	Status         string         `json:"status"`
	Bay            *BayAllocation `json:"bay,omitempty"`
	Supplier       *SupplierQuote `json:"supplier,omitempty"`
}

// BayAllocation is the bay-mode field group.
type BayAllocation struct {
	BayID       string `json:"bay_id"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description,omitempty"`
}

// SupplierQuote is the supplier-mode field group.
type SupplierQuote struct {
	SelectedSuppliers []string           `json:"selected_suppliers"`
	ApprovedSupplier  string             `json:"approved_supplier,omitempty"`
	ApprovedAt        string             `json:"approved_at,omitempty"`
	Responses         []SupplierResponse `json:"responses,omitempty"`
}

// SupplierResponse is a quote recorded for a fan-out.
type SupplierResponse struct {
	SupplierID    string `json:"supplier_id"`
	EstimatedCost int64  `json:"estimated_cost"`
	EstimatedTime string `json:"estimated_time,omitempty"`
	Comments      string `json:"comments,omitempty"`
	Status        string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Action     string         `json:"action"`
	CompanyID  string         `json:"company_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// Availability reports whether a bay slot is free.
type Availability struct {
	BayID       string `json:"bay_id"`
	BookingDate string `json:"booking_date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Available   bool   `json:"available"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// UpsertWorkOrderRequest carries the identity and mode fields for an upsert.
type UpsertWorkOrderRequest struct {
	VehicleType       string   `json:"vehicle_type"`
	VehicleStockID    int64    `json:"vehicle_stock_id"`
	FieldID           string   `json:"field_id"`
	Mode              string   `json:"mode"`
	BayID             string   `json:"bay_id,omitempty"`
	BookingDate       string   `json:"booking_date,omitempty"`
	StartTime         string   `json:"start_time,omitempty"`
	EndTime           string   `json:"end_time,omitempty"`
	Description       string   `json:"description,omitempty"`
	SelectedSuppliers []string `json:"selected_suppliers,omitempty"`
}

// UpsertWorkOrder creates or edits a work order by identity key.
func (c *Client) UpsertWorkOrder(ctx context.Context, req UpsertWorkOrderRequest) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPut, c.companyPath("work-orders"), req, &resp)
	return resp, err
}

// ResolveWorkOrder looks up a work order by identity key.
func (c *Client) ResolveWorkOrder(ctx context.Context, vehicleType string, vehicleStockID int64, fieldID string) (WorkOrder, error) {
	endpoint := fmt.Sprintf("%s?vehicle_type=%s&vehicle_stock_id=%d&field_id=%s",
		c.companyPath("work-orders/resolve"),
		url.QueryEscape(vehicleType), vehicleStockID, url.QueryEscape(fieldID))
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetWorkOrder fetches a work order by id.
func (c *Client) GetWorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	endpoint := fmt.Sprintf("v0/work-orders/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition posts a status-changing action, for example "accept" or
// "start". Body may be nil for actions without a payload.
func (c *Client) Transition(ctx context.Context, id, action string, body any) (WorkOrder, error) {
	if body == nil {
		body = map[string]any{}
	}
	var resp WorkOrder
	endpoint := fmt.Sprintf("v0/work-orders/%s/%s", url.PathEscape(id), strings.TrimLeft(action, "/"))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// InviteSuppliers adds suppliers to a fan-out.
func (c *Client) InviteSuppliers(ctx context.Context, id string, suppliers []string) (WorkOrder, error) {
	return c.Transition(ctx, id, "suppliers/invite", map[string]any{"suppliers": suppliers})
}

// RecordResponse records a supplier quote.
func (c *Client) RecordResponse(ctx context.Context, id, supplierID string, estimatedCost int64, estimatedTime, comments string) (SupplierResponse, error) {
	body := map[string]any{
		"supplier_id":    supplierID,
		"estimated_cost": estimatedCost,
		"estimated_time": estimatedTime,
		"comments":       comments,
	}
	var resp SupplierResponse
	endpoint := fmt.Sprintf("v0/work-orders/%s/responses", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApproveSupplier settles the fan-out on a single winner.
func (c *Client) ApproveSupplier(ctx context.Context, id, supplierID string) (WorkOrder, error) {
	return c.Transition(ctx, id, "approve", map[string]any{"supplier_id": supplierID})
}

// CheckSlot asks whether a bay interval is free.
func (c *Client) CheckSlot(ctx context.Context, bayID, date, start, end string) (Availability, error) {
	endpoint := fmt.Sprintf("v0/bays/%s/availability?date=%s&start=%s&end=%s",
		url.PathEscape(bayID), url.QueryEscape(date), url.QueryEscape(start), url.QueryEscape(end))
	var resp Availability
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.companyPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) companyPath(p string) string {
	company := url.PathEscape(c.CompanyID)
	return fmt.Sprintf("v0/companies/%s/%s", company, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
