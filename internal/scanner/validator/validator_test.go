package validator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gate-scanner/internal/models"
	"gate-scanner/internal/scanner/validator"
)

func ticket(eventID string, scannedAt *time.Time) *models.Ticket {
	return &models.Ticket{
		TicketID:   "tck_1",
		EventID:    eventID,
		EventName:  "Friday Show",
		TicketType: "GA",
		GuestName:  "Ada",
		ScannedAt:  scannedAt,
	}
}

func TestValidateAdmitsFreshTicket(t *testing.T) {
	now := time.Now()

	result := validator.Validate(ticket("evt_fri", nil), nil, "evt_fri", now)

	assert.Equal(t, validator.Admit, result.Decision)
	assert.True(t, result.Admitted())
	assert.Empty(t, result.Reason)
	assert.Contains(t, result.Message, "Ada")
}

func TestValidateAdmitsWithoutEventFilter(t *testing.T) {
	result := validator.Validate(ticket("evt_sat", nil), nil, "", time.Now())

	assert.Equal(t, validator.Admit, result.Decision)
}

func TestValidateNotFound(t *testing.T) {
	result := validator.Validate(nil, nil, "evt_fri", time.Now())

	assert.Equal(t, validator.RejectNotFound, result.Decision)
	assert.Equal(t, validator.ReasonNotFound, result.Reason)
	assert.False(t, result.Admitted())
}

func TestValidateAlreadyUsedWithoutVipLink(t *testing.T) {
	scanned := time.Now().Add(-1 * time.Hour)

	result := validator.Validate(ticket("evt_fri", &scanned), nil, "evt_fri", time.Now())

	assert.Equal(t, validator.RejectAlreadyUsed, result.Decision)
	assert.Equal(t, validator.ReasonAlreadyUsed, result.Reason)
}

func TestValidateVipReentryBeatsAlreadyUsed(t *testing.T) {
	scanned := time.Now().Add(-1 * time.Hour)
	vip := &models.VipLink{TicketID: "tck_1", ReservationID: "res_9", TableNumber: "12"}

	result := validator.Validate(ticket("evt_fri", &scanned), vip, "evt_fri", time.Now())

	assert.Equal(t, validator.AdmitReentry, result.Decision)
	assert.Equal(t, validator.ReasonReentry, result.Reason)
	assert.True(t, result.Admitted())
	assert.Contains(t, result.Message, "12")
}

func TestValidateWrongEventBeatsAlreadyUsed(t *testing.T) {
	// Scanned at the Friday gate with a Saturday ticket that was already
	// used: the operator needs "wrong event", not a generic rejection.
	scanned := time.Now().Add(-1 * time.Hour)
	saturday := ticket("evt_sat", &scanned)
	saturday.EventName = "Saturday Show"

	result := validator.Validate(saturday, nil, "evt_fri", time.Now())

	assert.Equal(t, validator.RejectWrongEvent, result.Decision)
	assert.Equal(t, validator.ReasonWrongEvent, result.Reason)
	assert.Contains(t, result.Message, "Saturday Show")
}

func TestValidateExpiredTicket(t *testing.T) {
	now := time.Now()
	expired := now.Add(-1 * time.Minute)
	tck := ticket("evt_fri", nil)
	tck.ExpiresAt = &expired

	result := validator.Validate(tck, nil, "evt_fri", now)

	assert.Equal(t, validator.RejectExpired, result.Decision)
	assert.Equal(t, validator.ReasonExpired, result.Reason)
}

func TestInvalid(t *testing.T) {
	result := validator.Invalid("bad payload")

	assert.Equal(t, validator.RejectInvalid, result.Decision)
	assert.Equal(t, validator.ReasonInvalid, result.Reason)
	assert.Contains(t, result.Message, "bad payload")
}
