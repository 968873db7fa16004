package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Topics double as event types.
const (
	TopicSeriesCreated = "booking.series.created.v1"
)

const AggregateSeries = "appointment_series"

var ErrInvalidEvent = errors.New("invalid outbox event")

// Event is one row of the outbox table. It is published to the topic named by
// EventType, keyed by AggregateID so a series keeps its order on one partition.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Validate rejects envelopes the publisher could not route.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: missing aggregate id", ErrInvalidEvent)
	case !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidEvent)
	}
	return nil
}

// SeriesCreated is the payload of TopicSeriesCreated. Notification consumers
// read it to send one confirmation per series.
type SeriesCreated struct {
	SeriesID       string    `json:"series_id"`
	OrganizationID string    `json:"organization_id"`
	EmployeeID     string    `json:"employee_id"`
	ClientName     string    `json:"client_name"`
	ClientEmail    string    `json:"client_email,omitempty"`
	ClientPhone    string    `json:"client_phone,omitempty"`
	Occurrences    int       `json:"occurrences"`
	Skipped        int       `json:"skipped"`
	AppointmentIDs []string  `json:"appointment_ids"`
	FirstStart     time.Time `json:"first_start"`
	LastEnd        time.Time `json:"last_end"`
}

// NewSeriesCreated wraps p in an envelope with a fresh event id.
func NewSeriesCreated(p SeriesCreated) (Event, error) {
	if p.SeriesID == "" {
		return Event{}, fmt.Errorf("%w: series created without series id", ErrInvalidEvent)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", TopicSeriesCreated, err)
	}
	return Event{
		ID:            uuid.NewString(),
		AggregateType: AggregateSeries,
		AggregateID:   p.SeriesID,
		EventType:     TopicSeriesCreated,
		Payload:       payload,
	}, nil
}
