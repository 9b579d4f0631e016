package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gate-scanner/internal/backend"
)

func newTestClient(handler http.HandlerFunc) (*backend.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := backend.NewClient(server.URL, "test-token", 2*time.Second, nil)
	return client, server
}

func TestTicketsForEventDecodesEmbeddedVipLinks(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/evt_fri/tickets", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"tickets": [
				{"ticket_id": "tck_1", "event_id": "evt_fri", "event_name": "Friday Show", "ticket_type": "GA", "guest_name": "Ada", "price": 40},
				{"ticket_id": "tck_2", "event_id": "evt_fri", "event_name": "Friday Show", "ticket_type": "VIP", "guest_name": null, "price": 120,
					"vip_link": {"reservation_id": "res_9", "table_number": "12", "purchaser_name": "Grace"}}
			]
		}`))
	})
	defer server.Close()

	tickets, links, err := client.TicketsForEvent(context.Background(), "evt_fri")
	assert.NoError(t, err)
	assert.Len(t, tickets, 2)
	assert.Equal(t, "Ada", tickets[0].GuestName)
	assert.Equal(t, "", tickets[1].GuestName)

	assert.Len(t, links, 1)
	assert.Equal(t, "res_9", links[0].ReservationID)
	// Link inherits the owning ticket id when the payload omits it.
	assert.Equal(t, "tck_2", links[0].TicketID)
}

func TestTicketsForEventServerErrorIsTransient(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	_, _, err := client.TicketsForEvent(context.Background(), "evt_fri")
	assert.Error(t, err)
	assert.True(t, backend.IsTransient(err))
}

func TestAdmitTicketSuccess(t *testing.T) {
	scannedAt := time.Date(2026, 8, 21, 20, 5, 0, 0, time.UTC)
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tickets/admit", r.URL.Path)

		var req backend.AdmitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tck_1", req.Code)
		assert.Equal(t, "qs_abc", req.IdempotencyKey)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"admitted": true,
			"ticket": map[string]any{
				"ticket_id":  "tck_1",
				"event_id":   "evt_fri",
				"scanned_at": scannedAt,
			},
		})
	})
	defer server.Close()

	result, err := client.AdmitTicket(context.Background(), backend.AdmitRequest{
		Code:           "tck_1",
		IdempotencyKey: "qs_abc",
		StaffID:        "staff_a",
		Gate:           "main-gate",
	})
	assert.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.NotNil(t, result.Ticket)
	assert.True(t, scannedAt.Equal(*result.Ticket.ScannedAt))
}

func TestAdmitTicketConflictDecodesBody(t *testing.T) {
	prev := time.Date(2026, 8, 21, 21, 15, 0, 0, time.UTC)
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"admitted": false,
			"reason":   "already_used",
			"ticket": map[string]any{
				"ticket_id":  "tck_1",
				"scanned_at": prev,
			},
			"previous_scan": map[string]any{
				"staff": "staff_b",
				"gate":  "north-gate",
				"time":  prev,
			},
		})
	})
	defer server.Close()

	result, err := client.AdmitTicket(context.Background(), backend.AdmitRequest{Code: "tck_1", IdempotencyKey: "qs_abc"})
	assert.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, "already_used", result.Reason)
	assert.NotNil(t, result.PreviousScan)
	assert.Equal(t, "north-gate", result.PreviousScan.Gate)
	assert.True(t, prev.Equal(result.PreviousScan.Time))
}

func TestAdmitTicketServerErrorIsTransient(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	_, err := client.AdmitTicket(context.Background(), backend.AdmitRequest{Code: "tck_1"})
	assert.Error(t, err)
	assert.True(t, backend.IsTransient(err))
}

func TestAdmitTicketBadRequestIsPermanent(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer server.Close()

	_, err := client.AdmitTicket(context.Background(), backend.AdmitRequest{Code: ""})
	assert.Error(t, err)
	assert.False(t, backend.IsTransient(err))
}

func TestAdmitTicketConnectionRefusedIsTransient(t *testing.T) {
	// Point at a closed port: the dial failure must read as retryable.
	client := backend.NewClient("http://127.0.0.1:1", "", 500*time.Millisecond, nil)

	_, err := client.AdmitTicket(context.Background(), backend.AdmitRequest{Code: "tck_1"})
	assert.Error(t, err)
	assert.True(t, backend.IsTransient(err))
}

func TestVipLinkForTicketNotFoundIsNil(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	link, err := client.VipLinkForTicket(context.Background(), "tck_1")
	assert.NoError(t, err)
	assert.Nil(t, link)
}

func TestVipLinkForTicketDecodes(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tickets/tck_1/vip-link", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reservation_id": "res_9", "table_number": "12", "purchaser_name": "Grace"}`))
	})
	defer server.Close()

	link, err := client.VipLinkForTicket(context.Background(), "tck_1")
	assert.NoError(t, err)
	assert.NotNil(t, link)
	assert.Equal(t, "12", link.TableNumber)
	assert.Equal(t, "tck_1", link.TicketID)
}

func TestHealthy(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	assert.True(t, client.Healthy(context.Background()))

	server.Close()
	assert.False(t, client.Healthy(context.Background()))
}
