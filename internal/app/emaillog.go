package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

// LogFilter narrows the email-log view. Empty fields pass everything.
type LogFilter struct {
	PropertyID string
	Status     string
}

// EmailLogService keeps the in-memory email-log view: an authoritative list
// from the backend, with streamed dealer replies prepended and optimistic
// resend/contact placeholders layered on top until the next fetch reconciles
// them.
type EmailLogService struct {
	client domain.ExtractorClient

	// compatTimer restores the original timer-only resend: pending for a
	// fixed delay, then sent, with no backend call.
	compatTimer bool
	resendDelay time.Duration
	now         func() time.Time

	mu   sync.Mutex
	logs []domain.EmailLog
}

func NewEmailLogService(c domain.ExtractorClient, compatTimer bool, resendDelay time.Duration) *EmailLogService {
	return &EmailLogService{
		client:      c,
		compatTimer: compatTimer,
		resendDelay: resendDelay,
		now:         time.Now,
	}
}

// Refresh replaces the list with the backend's authoritative set. Duplicate
// ids are tolerated; they are logged for diagnostics, never rejected.
func (s *EmailLogService) Refresh(ctx context.Context) error {
	logs, err := s.client.EmailLogs(ctx)
	if err != nil {
		return fmt.Errorf("fetch email logs: %w", err)
	}

	seen := make(map[string]int, len(logs))
	for _, l := range logs {
		seen[l.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			log.Warn().Str("id", id).Int("count", n).Msg("duplicate email log id from backend")
		}
	}

	s.mu.Lock()
	s.logs = logs
	s.mu.Unlock()
	return nil
}

// Logs returns a filtered copy, newest-first order preserved as received.
func (s *EmailLogService) Logs(f LogFilter) []domain.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EmailLog, 0, len(s.logs))
	for _, l := range s.logs {
		if f.PropertyID != "" && l.PropertyID != f.PropertyID {
			continue
		}
		if f.Status != "" && !strings.EqualFold(f.Status, StatusAll) && !strings.EqualFold(string(l.Status), f.Status) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// PushReply prepends a streamed dealer reply. A missing id gets a synthesized
// reply-<timestamp> one.
func (s *EmailLogService) PushReply(reply domain.EmailLog) {
	if reply.ID == "" {
		reply.ID = fmt.Sprintf("reply-%d", s.now().UnixMilli())
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = s.now()
	}
	if reply.Status == "" {
		reply.Status = domain.EmailSent
	}
	s.mu.Lock()
	s.logs = append([]domain.EmailLog{reply}, s.logs...)
	s.mu.Unlock()
}

// push appends an optimistic placeholder and returns its id.
func (s *EmailLogService) push(l domain.EmailLog) string {
	s.mu.Lock()
	s.logs = append([]domain.EmailLog{l}, s.logs...)
	s.mu.Unlock()
	return l.ID
}

func (s *EmailLogService) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.logs[:0]
	for _, l := range s.logs {
		if l.ID != id {
			out = append(out, l)
		}
	}
	s.logs = out
}

func (s *EmailLogService) setStatus(id string, st domain.EmailStatus) (domain.EmailStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs {
		if s.logs[i].ID == id {
			prev := s.logs[i].Status
			s.logs[i].Status = st
			s.logs[i].Timestamp = s.now()
			return prev, true
		}
	}
	return "", false
}

// Resend is the optimistic two-phase transition: the log goes pending with a
// refreshed timestamp immediately, then sent once the backend confirms. On a
// failed call the prior status is restored — "failed" only ever originates
// from a backend fetch. In compat mode the second phase fires off a timer
// with no backend call, matching the original behavior exactly.
func (s *EmailLogService) Resend(ctx context.Context, id string) error {
	prev, ok := s.setStatus(id, domain.EmailPending)
	if !ok {
		return domain.ErrNotFound
	}

	if s.compatTimer {
		time.AfterFunc(s.resendDelay, func() {
			s.setStatus(id, domain.EmailSent)
		})
		return nil
	}

	if err := s.client.ResendEmail(ctx, id); err != nil {
		s.setStatus(id, prev)
		return fmt.Errorf("resend %s: %w", id, err)
	}
	s.setStatus(id, domain.EmailSent)
	return nil
}
