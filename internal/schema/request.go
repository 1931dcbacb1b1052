package schema

import (
	"time"

	"github.com/google/uuid"
)

// HistoricalRequest is an immutable bounded data request. A zero Start or
// End means unset; End defaults to "now" at execution time. Limit 0 means
// unbounded by count (bounded only by the time window).
type HistoricalRequest struct {
	ID         uuid.UUID
	Instrument InstrumentID
	Kind       DataKind
	Start      time.Time
	End        time.Time
	Limit      int
	Timeout    time.Duration
}

// NewHistoricalRequest assigns a fresh correlation id to the request.
func NewHistoricalRequest(instrument InstrumentID, kind DataKind) HistoricalRequest {
	return HistoricalRequest{
		ID:         uuid.New(),
		Instrument: instrument,
		Kind:       kind,
		Start:      time.Time{},
		End:        time.Time{},
		Limit:      0,
		Timeout:    0,
	}
}

// Status is the terminal outcome of a request.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// StatusEvent is the terminal event published once per request on the
// request's status topic.
type StatusEvent struct {
	RequestID uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
}

// DataEvent wraps a request's payload for bus delivery, tagged with the
// request correlation id.
type DataEvent struct {
	RequestID  uuid.UUID    `json:"requestId"`
	Instrument InstrumentID `json:"instrument"`
	Kind       string       `json:"kind"`
	Payload    any          `json:"payload"`
}
