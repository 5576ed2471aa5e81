package domain

import (
	"strings"
	"time"
)

// Channel identifies the ingress channel a ticket arrived on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
	ChannelPhone Channel = "phone"
	ChannelWeb   Channel = "web"
)

// Ticket is the unit of work for one pipeline execution.
// It is immutable once accepted.
type Ticket struct {
	ID                 string            `json:"id"`
	ExternalID         string            `json:"external_id,omitempty"`
	CustomerExternalID string            `json:"customer_external_id"`
	Subject            string            `json:"subject"`
	Description        string            `json:"description"`
	Channel            Channel           `json:"channel,omitempty"`
	PriorityHint       string            `json:"priority_hint,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Validate rejects tickets that must not reach any external collaborator.
func (t *Ticket) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return ErrInvalidInput("ticket subject must not be empty").WithParam("subject")
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrInvalidInput("ticket description must not be empty").WithParam("description")
	}
	if strings.TrimSpace(t.CustomerExternalID) == "" {
		return ErrInvalidInput("customer_external_id must not be empty").WithParam("customer_external_id")
	}
	return nil
}
