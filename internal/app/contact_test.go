package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"propintel/internal/app"
	"propintel/internal/domain"
)

func newContactFixture(client *fakeClient) (*app.ContactService, *fakeRepo, *app.EmailLogService) {
	repo := newFakeRepo()
	repo.data[storeKey] = sampleBatch()
	catalog := app.NewCatalogService(repo, newFakeCache(), storeKey, time.Minute)
	emails := app.NewEmailLogService(client, false, 0)
	return app.NewContactService(client, catalog, emails), repo, emails
}

func TestContactSubmit_PrimaryBroker(t *testing.T) {
	client := &fakeClient{}
	svc, repo, emails := newContactFixture(client)

	reply, err := svc.Submit(context.Background(), "p-1", "", "Is the 3rd floor still available?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply != "Message sent successfully!" {
		t.Fatalf("reply = %q", reply)
	}

	if len(client.contacted) != 1 {
		t.Fatalf("contact calls: %d", len(client.contacted))
	}
	sent := client.contacted[0]
	if sent.BrokerName != "Jane Doe" || sent.BrokerEmail != "jane.doe@example.com" {
		t.Fatalf("fallback email not applied: %+v", sent)
	}
	if sent.PropertyTitle != "Harbor Point Tower" {
		t.Fatalf("property title: %q", sent.PropertyTitle)
	}

	// emailSent patched on the stored snapshot
	stored, _ := repo.Load(context.Background(), storeKey)
	if !stored[0].EmailSent {
		t.Fatalf("emailSent not patched: %+v", stored[0])
	}

	// placeholder reconciled to sent
	logs := emails.Logs(app.LogFilter{PropertyID: "p-1"})
	if len(logs) != 1 || logs[0].Status != domain.EmailSent {
		t.Fatalf("placeholder: %+v", logs)
	}
	if !strings.HasPrefix(logs[0].ID, "contact-") {
		t.Fatalf("placeholder id: %q", logs[0].ID)
	}
}

func TestContactSubmit_NamedBroker(t *testing.T) {
	client := &fakeClient{}
	svc, _, _ := newContactFixture(client)

	if _, err := svc.Submit(context.Background(), "p-2", "John Q. Smith", "ping"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if client.contacted[0].BrokerEmail != "john.q.smith@example.com" {
		t.Fatalf("broker email: %q", client.contacted[0].BrokerEmail)
	}

	if _, err := svc.Submit(context.Background(), "p-2", "Nobody Here", "ping"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown broker name: %v", err)
	}
}

func TestContactSubmit_NoBrokers(t *testing.T) {
	client := &fakeClient{}
	svc, _, _ := newContactFixture(client)

	// p-3 has no brokers in the fixture
	if _, err := svc.Submit(context.Background(), "p-3", "", "hello"); !errors.Is(err, app.ErrNoBrokers) {
		t.Fatalf("got %v", err)
	}
	if len(client.contacted) != 0 {
		t.Fatal("backend must not be called without a broker")
	}
}

func TestContactSubmit_UnknownProperty(t *testing.T) {
	svc, _, _ := newContactFixture(&fakeClient{})
	if _, err := svc.Submit(context.Background(), "ghost", "", "hello"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestContactSubmit_FailureDropsPlaceholder(t *testing.T) {
	client := &fakeClient{
		contactFn: func(domain.ContactMessage) (string, error) {
			return "", &domain.BackendError{Status: 500, Detail: "smtp relay down"}
		},
	}
	svc, repo, emails := newContactFixture(client)

	_, err := svc.Submit(context.Background(), "p-1", "", "hello")
	var be *domain.BackendError
	if !errors.As(err, &be) || be.Detail != "smtp relay down" {
		t.Fatalf("got %v", err)
	}

	// no stray pending entry, no emailSent patch
	if logs := emails.Logs(app.LogFilter{}); len(logs) != 0 {
		t.Fatalf("placeholder survived failure: %+v", logs)
	}
	stored, _ := repo.Load(context.Background(), storeKey)
	if stored[0].EmailSent {
		t.Fatal("emailSent patched despite failure")
	}
}
