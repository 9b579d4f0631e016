// Package validator holds the admission policy. It is a pure decision
// function shared by the online and offline paths, so the policy exists
// exactly once and mutation is always the caller's job.
package validator

import (
	"fmt"
	"time"

	"gate-scanner/internal/models"
)

type Decision string

const (
	Admit             Decision = "admit"
	AdmitReentry      Decision = "admit_reentry"
	RejectAlreadyUsed Decision = "reject_already_used"
	RejectWrongEvent  Decision = "reject_wrong_event"
	RejectNotFound    Decision = "reject_not_found"
	RejectInvalid     Decision = "reject_invalid"
	RejectExpired     Decision = "reject_expired"
)

// Reason codes carried alongside rejections.
const (
	ReasonReentry         = "reentry"
	ReasonAlreadyUsed     = "already_used"
	ReasonAlreadyUsedSync = "already_used_remote"
	ReasonWrongEvent      = "wrong_event"
	ReasonNotFound        = "not_found"
	ReasonInvalid         = "invalid"
	ReasonExpired         = "expired"
)

// Result is one admission decision. Admitted covers both fresh admissions
// and VIP re-entry.
type Result struct {
	Decision Decision
	Reason   string
	Message  string
	Ticket   *models.Ticket
	VipLink  *models.VipLink
}

func (r Result) Admitted() bool {
	return r.Decision == Admit || r.Decision == AdmitReentry
}

// Validate decides one scan. selectedEventID filters admissions to a single
// event; empty means no filter. Order matters: the wrong-event check runs
// before already-used so a gate operator at the wrong show gets an
// actionable message, and VIP re-entry runs before the generic rejection.
func Validate(ticket *models.Ticket, vip *models.VipLink, selectedEventID string, now time.Time) Result {
	if ticket == nil {
		return Result{
			Decision: RejectNotFound,
			Reason:   ReasonNotFound,
			Message:  "Ticket not found",
		}
	}

	if selectedEventID != "" && ticket.EventID != selectedEventID {
		return Result{
			Decision: RejectWrongEvent,
			Reason:   ReasonWrongEvent,
			Message:  fmt.Sprintf("Ticket belongs to %s", eventLabel(ticket)),
			Ticket:   ticket,
		}
	}

	if ticket.ExpiresAt != nil && now.After(*ticket.ExpiresAt) {
		return Result{
			Decision: RejectExpired,
			Reason:   ReasonExpired,
			Message:  "Ticket expired",
			Ticket:   ticket,
		}
	}

	if ticket.ScannedAt != nil {
		if vip != nil {
			return Result{
				Decision: AdmitReentry,
				Reason:   ReasonReentry,
				Message:  fmt.Sprintf("VIP re-entry - table %s", vip.TableNumber),
				Ticket:   ticket,
				VipLink:  vip,
			}
		}
		return Result{
			Decision: RejectAlreadyUsed,
			Reason:   ReasonAlreadyUsed,
			Message:  fmt.Sprintf("Already scanned at %s", ticket.ScannedAt.Format("15:04:05")),
			Ticket:   ticket,
		}
	}

	msg := "Welcome"
	if ticket.GuestName != "" {
		msg = fmt.Sprintf("Welcome, %s", ticket.GuestName)
	}
	return Result{
		Decision: Admit,
		Message:  msg,
		Ticket:   ticket,
		VipLink:  vip,
	}
}

// Invalid maps malformed input or an unexpected failure to the terminal
// rejection every error path must end in.
func Invalid(detail string) Result {
	msg := "Invalid ticket code"
	if detail != "" {
		msg = fmt.Sprintf("Invalid ticket code: %s", detail)
	}
	return Result{
		Decision: RejectInvalid,
		Reason:   ReasonInvalid,
		Message:  msg,
	}
}

func eventLabel(ticket *models.Ticket) string {
	if ticket.EventName != "" {
		return ticket.EventName
	}
	return ticket.EventID
}
