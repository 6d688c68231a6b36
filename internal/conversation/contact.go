package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// NotProvided marks a contact field the CRM did not supply.
const NotProvided = "Not provided"

// Contact is the resolved identity of the lead in a conversation. Missing
// fields hold sentinel values, never empty strings.
type Contact struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Country string `json:"country,omitempty"`
}

// UnknownContact is returned whenever resolution fails.
func UnknownContact() Contact {
	return Contact{Name: "Unknown", Email: NotProvided, Phone: NotProvided, Country: "Unknown"}
}

// HasEmail reports whether Email holds a real address.
func (c Contact) HasEmail() bool {
	return c.Email != "" && c.Email != NotProvided && strings.Contains(c.Email, "@")
}

// ContactFetcher looks up a contact by id.
type ContactFetcher interface {
	GetContact(ctx context.Context, contactID string) (json.RawMessage, error)
}

type Resolver struct {
	fetcher ContactFetcher
	logger  *slog.Logger
}

func NewResolver(fetcher ContactFetcher, logger *slog.Logger) *Resolver {
	return &Resolver{fetcher: fetcher, logger: logger}
}

type rawContact struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	FullName  string `json:"fullName"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
}

func (r rawContact) hasIdentity() bool {
	return r.FirstName != "" || r.LastName != "" || r.FullName != "" || r.Name != "" || r.Email != "" || r.Phone != ""
}

func (r rawContact) toContact() Contact {
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if name == "" {
		name = r.FullName
	}
	if name == "" {
		name = r.Name
	}
	if name == "" {
		name = "Unknown"
	}
	c := Contact{ID: r.ID, Name: name, Email: r.Email, Phone: r.Phone, Country: r.Country}
	if c.Email == "" {
		c.Email = NotProvided
	}
	if c.Phone == "" {
		c.Phone = NotProvided
	}
	return c
}

// Resolve finds the contact for a conversation. It probes an inline contact
// object, then contact.id, then the first message's contactId. It never
// fails: any lookup problem yields UnknownContact.
func (r *Resolver) Resolve(ctx context.Context, p *Payload) Contact {
	var inline rawContact
	if len(p.Contact) > 0 && json.Unmarshal(p.Contact, &inline) == nil && inline.hasIdentity() {
		return inline.toContact()
	}

	contactID := inline.ID
	if contactID == "" && len(p.Messages) > 0 {
		contactID = p.Messages[0].ContactID
	}
	if contactID == "" {
		r.logger.Warn("no contact id on conversation, using placeholder")
		return UnknownContact()
	}

	raw, err := r.fetcher.GetContact(ctx, contactID)
	if err != nil {
		r.logger.Warn("contact lookup failed, using placeholder", "contact_id", contactID, "error", err)
		return UnknownContact()
	}

	var wrapped struct {
		Contact *rawContact `json:"contact"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		r.logger.Warn("contact payload unreadable, using placeholder", "contact_id", contactID, "error", err)
		return UnknownContact()
	}
	rc := wrapped.Contact
	if rc == nil {
		var flat rawContact
		if err := json.Unmarshal(raw, &flat); err != nil {
			return UnknownContact()
		}
		rc = &flat
	}
	if rc.ID == "" {
		rc.ID = contactID
	}
	return rc.toContact()
}
