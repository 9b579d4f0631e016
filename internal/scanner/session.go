package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gate-scanner/internal/backend"
	"gate-scanner/internal/cache"
	"gate-scanner/internal/logger"
	"gate-scanner/internal/models"
	"gate-scanner/internal/qr"
	"gate-scanner/internal/queue"
	"gate-scanner/internal/scanner/validator"
)

// Feedback is the haptic/visual hook the device UI implements. Kinds:
// success, vip, reentry, reject, error.
type Feedback interface {
	Signal(kind string)
}

type NoopFeedback struct{}

func (NoopFeedback) Signal(string) {}

// Remote is the slice of the backend client the session needs for the
// online scan path.
type Remote interface {
	AdmitTicket(ctx context.Context, admit backend.AdmitRequest) (*backend.AdmitResult, error)
}

// Outcome is the terminal, operator-facing result of one scan. Every scan
// ends in one of these; there is no hang state.
type Outcome struct {
	Decision     string               `json:"decision"`
	Reason       string               `json:"reason,omitempty"`
	Message      string               `json:"message"`
	TicketID     string               `json:"ticket_id,omitempty"`
	GuestName    string               `json:"guest_name,omitempty"`
	TicketType   string               `json:"ticket_type,omitempty"`
	EventName    string               `json:"event_name,omitempty"`
	PreviousScan *models.PreviousScan `json:"previous_scan,omitempty"`
	Offline      bool                 `json:"offline"`
	// Ignored marks a dropped duplicate trigger (cooldown or a scan already
	// in flight); no side effects occurred.
	Ignored bool `json:"ignored,omitempty"`
	// Urgent marks a local storage failure: the scan may not be recorded
	// for sync and staff must be told, unlike a routine rejection.
	Urgent bool `json:"urgent,omitempty"`
	// VIP distinguishes a first-time VIP admission from a plain success on
	// the feedback channel; re-entry has its own kind.
	VIP       bool      `json:"vip,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Session orchestrates one scan lifecycle per device: decode input, decide
// via the validator (offline) or the backend (online), persist, and report.
// It enforces a single in-flight scan and a per-code cooldown so a camera
// decoder firing repeatedly on one badge produces one admission.
type Session struct {
	Cache    *cache.Cache
	Queue    *queue.Queue
	Backend  Remote
	Codec    *qr.Codec
	Feedback Feedback
	Logger   *logger.Logger

	EventID  string
	Gate     string
	Cooldown time.Duration
	// Online reports current connectivity; nil means always offline.
	Online func() bool

	historySize int

	mu         sync.Mutex
	scanning   bool
	lastCode   string
	lastCodeAt time.Time
	history    []models.ScanHistoryEntry
	scansToday int
	counterDay string
}

func NewSession(c *cache.Cache, q *queue.Queue, remote Remote, codec *qr.Codec, cfg SessionConfig, log *logger.Logger) *Session {
	feedback := cfg.Feedback
	if feedback == nil {
		feedback = NoopFeedback{}
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 10
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 2500 * time.Millisecond
	}
	return &Session{
		Cache:       c,
		Queue:       q,
		Backend:     remote,
		Codec:       codec,
		Feedback:    feedback,
		Logger:      log,
		EventID:     cfg.EventID,
		Gate:        cfg.Gate,
		Cooldown:    cooldown,
		Online:      cfg.Online,
		historySize: historySize,
	}
}

type SessionConfig struct {
	EventID     string
	Gate        string
	Cooldown    time.Duration
	HistorySize int
	Online      func() bool
	Feedback    Feedback
}

// ProcessScan is the single entry point for a physical scan. It always
// returns a terminal outcome; any unexpected failure inside validation is
// mapped to an invalid-code rejection rather than propagated.
func (s *Session) ProcessScan(ctx context.Context, rawCode, method, staffID string) Outcome {
	s.mu.Lock()
	now := time.Now()
	if s.scanning {
		s.mu.Unlock()
		return Outcome{Ignored: true, Message: "Scan already in progress", ScannedAt: now}
	}
	if rawCode == s.lastCode && now.Sub(s.lastCodeAt) < s.Cooldown {
		s.mu.Unlock()
		return Outcome{Ignored: true, Message: "Duplicate trigger ignored", ScannedAt: now}
	}
	s.scanning = true
	s.lastCode = rawCode
	s.lastCodeAt = now
	s.mu.Unlock()

	outcome := s.runScan(ctx, rawCode, method, staffID, now)

	s.mu.Lock()
	s.scanning = false
	s.bumpCounterLocked(now)
	s.recordHistoryLocked(outcome, method)
	s.mu.Unlock()

	s.Feedback.Signal(feedbackKind(outcome))
	if s.Logger != nil {
		s.Logger.LogScan(outcome.Decision, rawCode, outcome.Message)
	}
	return outcome
}

func (s *Session) runScan(ctx context.Context, rawCode, method, staffID string, now time.Time) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if s.Logger != nil {
				s.Logger.Error("SCAN", fmt.Sprintf("panic during scan: %v", r))
			}
			outcome = fromResult(validator.Invalid("unexpected error"), true, now)
		}
	}()

	ticketID, err := s.resolveCode(rawCode, method)
	if err != nil {
		return fromResult(validator.Invalid(err.Error()), !s.isOnline(), now)
	}

	if s.isOnline() {
		outcome, fallback := s.scanOnline(ctx, ticketID, staffID, now)
		if !fallback {
			return outcome
		}
		// Transport failed mid-scan: treat this scan as offline rather
		// than losing the attempt.
		if s.Logger != nil {
			s.Logger.Warn("SCAN", "backend unreachable, falling back to offline path")
		}
	}

	return s.scanOffline(ctx, ticketID, rawCode, staffID, now)
}

// resolveCode turns raw scanner input into a ticket id. QR payloads are
// encrypted passes; manual and NFC input carry the ticket id directly.
func (s *Session) resolveCode(rawCode, method string) (string, error) {
	if rawCode == "" {
		return "", fmt.Errorf("empty code")
	}
	if method == models.MethodQR && s.Codec != nil {
		pass, err := s.Codec.DecryptPass(rawCode)
		if err != nil {
			return "", err
		}
		return pass.TicketID, nil
	}
	return rawCode, nil
}

func (s *Session) scanOnline(ctx context.Context, ticketID, staffID string, now time.Time) (Outcome, bool) {
	result, err := s.Backend.AdmitTicket(ctx, backend.AdmitRequest{
		Code:           ticketID,
		IdempotencyKey: uuid.New().String(),
		StaffID:        staffID,
		Gate:           s.Gate,
	})
	if err != nil {
		if backend.IsTransient(err) {
			return Outcome{}, true
		}
		return fromResult(validator.Invalid(err.Error()), false, now), false
	}

	outcome := Outcome{
		Decision:     string(decisionFromRemote(result)),
		Reason:       result.Reason,
		PreviousScan: result.PreviousScan,
		ScannedAt:    now,
	}
	if result.Ticket != nil {
		outcome.TicketID = result.Ticket.TicketID
		outcome.GuestName = result.Ticket.GuestName
		outcome.TicketType = result.Ticket.TicketType
		outcome.EventName = result.Ticket.EventName
		outcome.VIP = isVIPType(result.Ticket.TicketType)
		// Keep the replica current with what the backend just recorded.
		if result.Ticket.ScannedAt != nil {
			if err := s.Cache.SetScannedAt(ctx, result.Ticket.TicketID, *result.Ticket.ScannedAt); err != nil && s.Logger != nil {
				s.Logger.Error("CACHE", fmt.Sprintf("failed to update replica: %v", err))
			}
		}
	}
	outcome.Message = remoteMessage(result, outcome)
	return outcome, false
}

func (s *Session) scanOffline(ctx context.Context, ticketID, rawCode, staffID string, now time.Time) Outcome {
	ticket, err := s.Cache.Lookup(ctx, ticketID)
	if err != nil {
		return storageOutcome(err, now)
	}

	var vip *models.VipLink
	if ticket != nil {
		vip, err = s.Cache.VipLink(ctx, ticket.TicketID)
		if err != nil {
			return storageOutcome(err, now)
		}
	}

	result := validator.Validate(ticket, vip, s.EventID, now)
	outcome := fromResult(result, true, now)

	if !result.Admitted() {
		// A rejection is not a state change; nothing to sync.
		return outcome
	}

	if result.Decision == validator.Admit {
		if err := s.Cache.MarkScanned(ctx, ticket.TicketID, now); err != nil {
			return storageOutcome(err, now)
		}
	}

	meta := queue.Metadata{EventID: ticket.EventID, TicketType: ticket.TicketType, GuestName: ticket.GuestName}
	if _, err := s.Queue.Enqueue(ctx, ticketID, staffID, meta); err != nil {
		return storageOutcome(err, now)
	}

	return outcome
}

// SyncStatus feeds the UI's pending badge.
func (s *Session) SyncStatus(ctx context.Context) (models.QueueCounts, error) {
	return s.Queue.CountByState(ctx)
}

// History returns recent scan outcomes, most recent first.
func (s *Session) History() []models.ScanHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScanHistoryEntry, len(s.history))
	for i, entry := range s.history {
		out[len(s.history)-1-i] = entry
	}
	return out
}

// ScansToday returns the device's scan count since local midnight.
func (s *Session) ScansToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counterDay != time.Now().Format("2006-01-02") {
		return 0
	}
	return s.scansToday
}

func (s *Session) bumpCounterLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.counterDay {
		s.counterDay = day
		s.scansToday = 0
	}
	s.scansToday++
}

func (s *Session) recordHistoryLocked(outcome Outcome, method string) {
	entry := models.ScanHistoryEntry{
		Decision:   outcome.Decision,
		Reason:     outcome.Reason,
		Message:    outcome.Message,
		GuestName:  outcome.GuestName,
		TicketType: outcome.TicketType,
		EventName:  outcome.EventName,
		Method:     method,
		Offline:    outcome.Offline,
		ScannedAt:  outcome.ScannedAt,
	}
	s.history = append(s.history, entry)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
}

func (s *Session) isOnline() bool {
	return s.Online != nil && s.Online()
}

func fromResult(result validator.Result, offline bool, now time.Time) Outcome {
	outcome := Outcome{
		Decision:  string(result.Decision),
		Reason:    result.Reason,
		Message:   result.Message,
		Offline:   offline,
		ScannedAt: now,
	}
	if result.Ticket != nil {
		outcome.TicketID = result.Ticket.TicketID
		outcome.GuestName = result.Ticket.GuestName
		outcome.TicketType = result.Ticket.TicketType
		outcome.EventName = result.Ticket.EventName
	}
	outcome.VIP = result.VipLink != nil || isVIPType(outcome.TicketType)
	return outcome
}

func isVIPType(ticketType string) bool {
	return strings.Contains(strings.ToUpper(ticketType), "VIP")
}

func storageOutcome(err error, now time.Time) Outcome {
	return Outcome{
		Decision:  "error",
		Reason:    "storage_error",
		Message:   fmt.Sprintf("Scan may not be recorded, notify staff lead: %v", err),
		Urgent:    true,
		Offline:   true,
		ScannedAt: now,
	}
}

func decisionFromRemote(result *backend.AdmitResult) validator.Decision {
	if result.Admitted {
		if result.Reason == validator.ReasonReentry {
			return validator.AdmitReentry
		}
		return validator.Admit
	}
	switch result.Reason {
	case validator.ReasonAlreadyUsed:
		return validator.RejectAlreadyUsed
	case validator.ReasonWrongEvent:
		return validator.RejectWrongEvent
	case validator.ReasonNotFound:
		return validator.RejectNotFound
	case validator.ReasonExpired:
		return validator.RejectExpired
	default:
		return validator.RejectInvalid
	}
}

func remoteMessage(result *backend.AdmitResult, outcome Outcome) string {
	switch validator.Decision(outcome.Decision) {
	case validator.Admit:
		if outcome.GuestName != "" {
			return fmt.Sprintf("Welcome, %s", outcome.GuestName)
		}
		return "Welcome"
	case validator.AdmitReentry:
		return "VIP re-entry"
	case validator.RejectAlreadyUsed:
		if result.PreviousScan != nil {
			return fmt.Sprintf("Already scanned at %s by %s (%s)",
				result.PreviousScan.Time.Format("15:04:05"), result.PreviousScan.Staff, result.PreviousScan.Gate)
		}
		return "Already scanned"
	case validator.RejectWrongEvent:
		if outcome.EventName != "" {
			return fmt.Sprintf("Ticket belongs to %s", outcome.EventName)
		}
		return "Ticket is for a different event"
	case validator.RejectNotFound:
		return "Ticket not found"
	case validator.RejectExpired:
		return "Ticket expired"
	default:
		return "Invalid ticket code"
	}
}

func feedbackKind(outcome Outcome) string {
	switch validator.Decision(outcome.Decision) {
	case validator.Admit:
		if outcome.VIP {
			return "vip"
		}
		return "success"
	case validator.AdmitReentry:
		return "reentry"
	case validator.RejectAlreadyUsed, validator.RejectWrongEvent, validator.RejectNotFound, validator.RejectExpired:
		return "reject"
	default:
		return "error"
	}
}
