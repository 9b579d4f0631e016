package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
)

// TransportError marks a failure that is worth retrying: the backend was
// unreachable, timed out, or answered with a server error. Validation
// rejections are never TransportErrors.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err means "try again later" rather than "the
// backend said no".
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AdmitRequest is one admission attempt. IdempotencyKey makes replays during
// sync safe: the backend applies the key at most once.
type AdmitRequest struct {
	Code           string `json:"code"`
	IdempotencyKey string `json:"idempotency_key"`
	StaffID        string `json:"staff_id,omitempty"`
	Gate           string `json:"gate,omitempty"`
}

// AdmitResult is the backend's authoritative answer for one admission.
type AdmitResult struct {
	Admitted     bool
	Reason       string
	Ticket       *models.Ticket
	PreviousScan *models.PreviousScan
}

// Client talks to the hosted ticketing backend. All loosely-typed payloads
// are decoded here and coerced into models types before anything else sees
// them.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log,
	}
}

// wire types: what the backend actually sends, before coercion.

type wireTicket struct {
	TicketID   string       `json:"ticket_id"`
	EventID    string       `json:"event_id"`
	EventName  string       `json:"event_name"`
	TicketType string       `json:"ticket_type"`
	GuestName  *string      `json:"guest_name"`
	Price      float64      `json:"price"`
	ScannedAt  *time.Time   `json:"scanned_at"`
	ExpiresAt  *time.Time   `json:"expires_at"`
	VipLink    *wireVipLink `json:"vip_link"`
}

type wireVipLink struct {
	TicketID      string `json:"ticket_id"`
	ReservationID string `json:"reservation_id"`
	TableNumber   string `json:"table_number"`
	PurchaserName string `json:"purchaser_name"`
}

type wireAdmitResponse struct {
	Admitted     bool        `json:"admitted"`
	Reason       string      `json:"reason"`
	Ticket       *wireTicket `json:"ticket"`
	PreviousScan *struct {
		Staff string     `json:"staff"`
		Gate  string     `json:"gate"`
		Time  *time.Time `json:"time"`
	} `json:"previous_scan"`
}

func (w *wireTicket) toModel() models.Ticket {
	t := models.Ticket{
		TicketID:   w.TicketID,
		EventID:    w.EventID,
		EventName:  w.EventName,
		TicketType: w.TicketType,
		Price:      w.Price,
		ScannedAt:  w.ScannedAt,
		ExpiresAt:  w.ExpiresAt,
	}
	if w.GuestName != nil {
		t.GuestName = *w.GuestName
	}
	return t
}

func (w *wireVipLink) toModel() models.VipLink {
	return models.VipLink{
		TicketID:      w.TicketID,
		ReservationID: w.ReservationID,
		TableNumber:   w.TableNumber,
		PurchaserName: w.PurchaserName,
	}
}

// TicketsForEvent fetches the full ticket list for one event for a cache
// refresh. VIP links ride along embedded per ticket so a single call
// populates both local tables.
func (c *Client) TicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, []models.VipLink, error) {
	endpoint := fmt.Sprintf("%s/api/v1/events/%s/tickets", c.BaseURL, url.PathEscape(eventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Op: "list tickets", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("list tickets", resp.StatusCode); err != nil {
		return nil, nil, err
	}

	var body struct {
		Tickets []wireTicket `json:"tickets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("failed to decode ticket list: %w", err)
	}

	tickets := make([]models.Ticket, 0, len(body.Tickets))
	var links []models.VipLink
	for _, wt := range body.Tickets {
		if wt.TicketID == "" {
			continue
		}
		tickets = append(tickets, wt.toModel())
		if wt.VipLink != nil && wt.VipLink.ReservationID != "" {
			link := wt.VipLink.toModel()
			if link.TicketID == "" {
				link.TicketID = wt.TicketID
			}
			links = append(links, link)
		}
	}

	if c.Logger != nil {
		c.Logger.LogBackend("GET", endpoint, fmt.Sprintf("%d tickets", len(tickets)))
	}
	return tickets, links, nil
}

// AdmitTicket submits one admission. The endpoint is idempotent under
// req.IdempotencyKey: submitting the same key twice reports the original
// outcome instead of admitting twice.
func (c *Client) AdmitTicket(ctx context.Context, admit AdmitRequest) (*AdmitResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tickets/admit", c.BaseURL)

	payload, err := json.Marshal(admit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal admit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "admit ticket", Err: err}
	}
	defer resp.Body.Close()

	// 409 carries an already-used body, so it is decoded, not rejected.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		if err := checkStatus("admit ticket", resp.StatusCode); err != nil {
			return nil, err
		}
	}

	var body wireAdmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode admit response: %w", err)
	}

	result := &AdmitResult{
		Admitted: body.Admitted,
		Reason:   body.Reason,
	}
	if body.Ticket != nil {
		t := body.Ticket.toModel()
		result.Ticket = &t
	}
	if body.PreviousScan != nil && body.PreviousScan.Time != nil {
		result.PreviousScan = &models.PreviousScan{
			Staff: body.PreviousScan.Staff,
			Gate:  body.PreviousScan.Gate,
			Time:  *body.PreviousScan.Time,
		}
	}
	return result, nil
}

// VipLinkForTicket fetches the VIP link for one ticket. Returns nil without
// error when the ticket has no link.
func (c *Client) VipLinkForTicket(ctx context.Context, ticketID string) (*models.VipLink, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tickets/%s/vip-link", c.BaseURL, url.PathEscape(ticketID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "vip link", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus("vip link", resp.StatusCode); err != nil {
		return nil, err
	}

	var body wireVipLink
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode vip link: %w", err)
	}
	link := body.toModel()
	if link.TicketID == "" {
		link.TicketID = ticketID
	}
	return &link, nil
}

// Healthy probes the backend; the connectivity watcher calls this on a timer.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Content-Type", "application/json")
}

func checkStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return &TransportError{Op: op, Err: fmt.Errorf("status %d", status)}
	default:
		return fmt.Errorf("%s failed with status: %d", op, status)
	}
}
