package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"propintel/internal/domain"
)

// stubClient is the minimal ExtractorClient for exercising the email-log
// service in isolation.
type stubClient struct {
	logs      []domain.EmailLog
	logsErr   error
	resendErr error
	resent    []string
}

func (c *stubClient) Extract(context.Context, string, io.Reader) ([]map[string]any, error) {
	return nil, errors.New("not used")
}
func (c *stubClient) ContactBroker(context.Context, domain.ContactMessage) (string, error) {
	return "", errors.New("not used")
}
func (c *stubClient) EmailLogs(context.Context) ([]domain.EmailLog, error) {
	return c.logs, c.logsErr
}
func (c *stubClient) ResendEmail(_ context.Context, id string) error {
	c.resent = append(c.resent, id)
	return c.resendErr
}
func (c *stubClient) SyncProperty(context.Context, string, domain.Property) error { return nil }

// fakeClock hands out strictly increasing instants.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	client := &stubClient{logs: []domain.EmailLog{
		{ID: "e-1", Subject: "Inquiry: Harbor Point Tower", Status: domain.EmailSent},
		{ID: "e-2", Subject: "Inquiry: Midtown Annex", Status: domain.EmailFailed},
	}}
	svc := NewEmailLogService(client, false, 0)
	svc.PushReply(domain.EmailLog{ID: "stale", Body: "old streamed reply"})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := svc.Logs(LogFilter{})
	if len(got) != 2 || got[0].ID != "e-1" {
		t.Fatalf("logs after refresh: %+v", got)
	}
}

func TestRefresh_ToleratesDuplicateIDs(t *testing.T) {
	client := &stubClient{logs: []domain.EmailLog{{ID: "dup"}, {ID: "dup"}}}
	svc := NewEmailLogService(client, false, 0)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("duplicates must not reject the fetch: %v", err)
	}
	if got := svc.Logs(LogFilter{}); len(got) != 2 {
		t.Fatalf("both kept: %+v", got)
	}
}

func TestLogs_Filtering(t *testing.T) {
	svc := NewEmailLogService(&stubClient{}, false, 0)
	svc.logs = []domain.EmailLog{
		{ID: "e-1", PropertyID: "p-1", Status: domain.EmailSent},
		{ID: "e-2", PropertyID: "p-2", Status: domain.EmailPending},
		{ID: "e-3", PropertyID: "p-1", Status: domain.EmailFailed},
	}

	if got := svc.Logs(LogFilter{PropertyID: "p-1"}); len(got) != 2 {
		t.Fatalf("property filter: %+v", got)
	}
	if got := svc.Logs(LogFilter{Status: "PENDING"}); len(got) != 1 || got[0].ID != "e-2" {
		t.Fatalf("status filter: %+v", got)
	}
	if got := svc.Logs(LogFilter{Status: "all"}); len(got) != 3 {
		t.Fatalf("all sentinel: %+v", got)
	}
	if got := svc.Logs(LogFilter{PropertyID: "p-1", Status: "failed"}); len(got) != 1 || got[0].ID != "e-3" {
		t.Fatalf("combined: %+v", got)
	}
}

func TestPushReply_SynthesizesIDAndPrepends(t *testing.T) {
	svc := NewEmailLogService(&stubClient{}, false, 0)
	clock := &fakeClock{t: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.Now

	svc.logs = []domain.EmailLog{{ID: "existing"}}
	svc.PushReply(domain.EmailLog{Body: "Dealer says yes"})

	got := svc.Logs(LogFilter{})
	if len(got) != 2 {
		t.Fatalf("logs: %+v", got)
	}
	if got[0].Body != "Dealer says yes" {
		t.Fatalf("reply not prepended: %+v", got[0])
	}
	if got[0].ID == "" || got[0].ID == "existing" {
		t.Fatalf("id not synthesized: %q", got[0].ID)
	}
	if got[0].Status != domain.EmailSent {
		t.Fatalf("default status: %q", got[0].Status)
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestResend_TwoPhaseWithBackend(t *testing.T) {
	client := &stubClient{}
	svc := NewEmailLogService(client, false, 0)
	clock := &fakeClock{t: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.Now

	svc.logs = []domain.EmailLog{{ID: "e-9", Status: domain.EmailFailed, Timestamp: clock.Now()}}
	before := svc.logs[0].Timestamp

	if err := svc.Resend(context.Background(), "e-9"); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if len(client.resent) != 1 || client.resent[0] != "e-9" {
		t.Fatalf("backend calls: %v", client.resent)
	}
	got := svc.Logs(LogFilter{})[0]
	if got.Status != domain.EmailSent {
		t.Fatalf("final status: %q", got.Status)
	}
	if !got.Timestamp.After(before) {
		t.Fatalf("timestamp must advance: %v then %v", before, got.Timestamp)
	}
}

func TestResend_FailureRestoresPriorStatus(t *testing.T) {
	client := &stubClient{resendErr: errors.New("backend down")}
	svc := NewEmailLogService(client, false, 0)
	svc.logs = []domain.EmailLog{{ID: "e-9", Status: domain.EmailFailed}}

	if err := svc.Resend(context.Background(), "e-9"); err == nil {
		t.Fatal("want error")
	}
	if got := svc.Logs(LogFilter{})[0]; got.Status != domain.EmailFailed {
		t.Fatalf("status after failed resend: %q", got.Status)
	}
}

func TestResend_UnknownID(t *testing.T) {
	svc := NewEmailLogService(&stubClient{}, false, 0)
	if err := svc.Resend(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestResend_CompatTimer(t *testing.T) {
	client := &stubClient{}
	svc := NewEmailLogService(client, true, 20*time.Millisecond)
	svc.logs = []domain.EmailLog{{ID: "e-9", Status: domain.EmailSent}}

	if err := svc.Resend(context.Background(), "e-9"); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	// pending immediately, no backend call in compat mode
	if got := svc.Logs(LogFilter{})[0]; got.Status != domain.EmailPending {
		t.Fatalf("immediate status: %q", got.Status)
	}
	if len(client.resent) != 0 {
		t.Fatalf("compat mode must not call the backend: %v", client.resent)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Logs(LogFilter{})[0].Status == domain.EmailSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timer never flipped the log to sent")
}
