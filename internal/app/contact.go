package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

var ErrNoBrokers = errors.New("property has no brokers to contact")

// ContactService submits a one-shot message to a property's broker. The
// broker must come from the property's own broker list; with no brokers the
// submission is disabled outright.
type ContactService struct {
	client  domain.ExtractorClient
	catalog *CatalogService
	emails  *EmailLogService
}

func NewContactService(c domain.ExtractorClient, catalog *CatalogService, emails *EmailLogService) *ContactService {
	return &ContactService{client: c, catalog: catalog, emails: emails}
}

// Submit posts the message on behalf of the named broker and returns the
// server's response message verbatim. On success the property's emailSent
// flag is patched in place. No retry; the caller resubmits.
func (s *ContactService) Submit(ctx context.Context, propertyID, brokerName, message string) (string, error) {
	prop, err := s.catalog.PropertyByID(ctx, propertyID)
	if err != nil {
		return "", err
	}
	if len(prop.Brokers) == 0 {
		return "", ErrNoBrokers
	}

	broker := prop.Brokers[0] // first broker is primary
	if brokerName != "" {
		found := false
		for _, b := range prop.Brokers {
			if b.Name == brokerName {
				broker, found = b, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("broker %q: %w", brokerName, domain.ErrNotFound)
		}
	}

	msg := domain.ContactMessage{
		BrokerEmail:   ResolveBrokerEmail(broker),
		BrokerName:    broker.Name,
		PropertyTitle: prop.Title,
		Message:       message,
	}

	// optimistic placeholder, reconciled by the next authoritative fetch
	placeholder := ""
	if s.emails != nil {
		placeholder = s.emails.push(domain.EmailLog{
			ID:            "contact-" + uuid.NewString(),
			To:            msg.BrokerEmail,
			Subject:       "Inquiry: " + prop.Title,
			Body:          message,
			Status:        domain.EmailPending,
			Timestamp:     s.emails.now(),
			PropertyID:    prop.ID,
			PropertyTitle: prop.Title,
		})
	}

	reply, err := s.client.ContactBroker(ctx, msg)
	if err != nil {
		if s.emails != nil {
			s.emails.drop(placeholder)
		}
		return "", err
	}

	if s.emails != nil {
		s.emails.setStatus(placeholder, domain.EmailSent)
	}
	if err := s.catalog.MarkEmailSent(ctx, prop.ID); err != nil {
		// the message went out; a failed flag patch is log-only
		log.Warn().Err(err).Str("property", prop.ID).Msg("emailSent patch failed")
	}
	return reply, nil
}
