// Package remote implements the ledger ports against the AJAX endpoint of a ledger server.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/shared"
)

// ErrRejected is returned when the server answers with success=false.
var ErrRejected = errors.New("remote: request rejected")

// APIError carries the failure payload of the envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote: %d: %s", e.Status, e.Message)
}

// Is maps server codes back onto ledger sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ledger.ErrValidation:
		return e.Code == "validation"
	case ledger.ErrInProgress:
		return e.Code == "conflict"
	case shared.ErrNonceInvalid:
		return e.Code == "unauthorized"
	}
	return false
}

// Config describes how to reach the ledger server.
type Config struct {
	BaseURL   string
	SessionID string
	Nonce     string
	Timeout   time.Duration
}

// Client posts form-encoded actions to /ajax with the session id and nonce attached.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string
	nonce     string
}

var (
	_ ledger.Store           = (*Client)(nil)
	_ ledger.ProfileResolver = (*Client)(nil)
)

// NewClient constructs a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		sessionID:  cfg.SessionID,
		nonce:      cfg.Nonce,
	}
}

type sessionGrant struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// Handshake obtains a fresh nonce, and a session id when none is configured.
func (c *Client) Handshake(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", nil)
	if err != nil {
		return err
	}
	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set(shared.SessionHeader, c.sessionID)
	}
	c.mu.RUnlock()

	var grant sessionGrant
	if err := c.do(req, &grant); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.mu.Lock()
	c.sessionID = grant.SessionID
	c.nonce = grant.Nonce
	c.mu.Unlock()
	return nil
}

// CreateItem implements ledger.Store.
func (c *Client) CreateItem(ctx context.Context, req ledger.CreateItemRequest) (int64, error) {
	var out struct {
		ItemID int64 `json:"item_id"`
	}
	err := c.post(ctx, "ktp_create_item", url.Values{
		"order_id":    {strconv.FormatInt(req.OrderID, 10)},
		"item_type":   {string(req.Type)},
		"field_name":  {string(req.Field)},
		"field_value": {req.Value},
		"client_key":  {req.ClientKey},
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.ItemID <= 0 {
		return 0, fmt.Errorf("%w: server returned no item id", ErrRejected)
	}
	return out.ItemID, nil
}

// UpdateItem implements ledger.Store.
func (c *Client) UpdateItem(ctx context.Context, itemType ledger.ItemType, itemID int64, field ledger.Field, value string, orderID int64) error {
	return c.post(ctx, "ktp_update_item", url.Values{
		"order_id":    {strconv.FormatInt(orderID, 10)},
		"item_type":   {string(itemType)},
		"item_id":     {strconv.FormatInt(itemID, 10)},
		"field_name":  {string(field)},
		"field_value": {value},
	}, nil)
}

// DeleteItem implements ledger.Store.
func (c *Client) DeleteItem(ctx context.Context, itemType ledger.ItemType, itemID int64, orderID int64) error {
	return c.post(ctx, "ktp_delete_item", url.Values{
		"order_id":  {strconv.FormatInt(orderID, 10)},
		"item_type": {string(itemType)},
		"item_id":   {strconv.FormatInt(itemID, 10)},
	}, nil)
}

// ReorderItems implements ledger.Store.
func (c *Client) ReorderItems(ctx context.Context, itemType ledger.ItemType, orderID int64, positions []ledger.Position) error {
	payload, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	return c.post(ctx, "ktp_reorder_items", url.Values{
		"order_id":  {strconv.FormatInt(orderID, 10)},
		"item_type": {string(itemType)},
		"items":     {string(payload)},
	}, nil)
}

// SupplierTaxProfile implements ledger.ProfileResolver.
func (c *Client) SupplierTaxProfile(ctx context.Context, supplierID int64) (ledger.SupplierTaxProfile, error) {
	var profile ledger.SupplierTaxProfile
	err := c.post(ctx, "ktp_supplier_tax_profile", url.Values{
		"supplier_id": {strconv.FormatInt(supplierID, 10)},
	}, &profile)
	return profile, err
}

// ListItems fetches the rows of one table, or both when itemType is empty.
func (c *Client) ListItems(ctx context.Context, orderID int64, itemType ledger.ItemType) ([]ledger.LineItem, error) {
	var out struct {
		Items []ledger.LineItem `json:"items"`
	}
	err := c.post(ctx, "ktp_list_items", url.Values{
		"order_id":  {strconv.FormatInt(orderID, 10)},
		"item_type": {string(itemType)},
	}, &out)
	return out.Items, err
}

// OrderTotals fetches the server-side totals of an order.
func (c *Client) OrderTotals(ctx context.Context, orderID int64) (ledger.Totals, error) {
	var totals ledger.Totals
	err := c.post(ctx, "ktp_order_totals", url.Values{
		"order_id": {strconv.FormatInt(orderID, 10)},
	}, &totals)
	return totals, err
}

func (c *Client) post(ctx context.Context, action string, values url.Values, out any) error {
	c.mu.RLock()
	sessionID, nonce := c.sessionID, c.nonce
	c.mu.RUnlock()

	values.Set("action", action)
	values.Set(shared.NonceFormField, nonce)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ajax", strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(shared.SessionHeader, sessionID)
	if err := c.do(req, out); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var data struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(env.Data, &data) == nil {
			apiErr.Code, apiErr.Message = data.Code, data.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
