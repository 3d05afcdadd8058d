package processing

import (
	"github.com/goccy/go-json"
)

// Event types published by the media job pipeline and the event grid itself.
const (
	EventTypeJobOutputProgress      = "Microsoft.Media.JobOutputProgress"
	EventTypeJobStateChange         = "Microsoft.Media.JobStateChange"
	EventTypeJobFinished            = "Microsoft.Media.JobFinished"
	EventTypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
)

// Envelope is one event in the Event Grid schema. Data is decoded per kind.
// EventTime is carried as received and never parsed.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic,omitempty"`
	Subject     string          `json:"subject"`
	EventType   string          `json:"eventType"`
	EventTime   string          `json:"eventTime,omitempty"`
	DataVersion string          `json:"dataVersion,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Correlation is the job correlation metadata the upload step attached to the job.
type Correlation struct {
	AssetName string `json:"assetName" validate:"required,notblank"`
}

// JobOutputProgressData is the payload of Microsoft.Media.JobOutputProgress.
// Progress arrives either as a string ("42") or as a number (42).
type JobOutputProgressData struct {
	JobCorrelationData *Correlation `json:"jobCorrelationData" validate:"required"`
	Label              string       `json:"label,omitempty"`
	Progress           any          `json:"progress"`
}

// JobStateChangeData is the payload of Microsoft.Media.JobStateChange.
type JobStateChangeData struct {
	CorrelationData *Correlation `json:"correlationData" validate:"required"`
	PreviousState   string       `json:"previousState,omitempty"`
	State           string       `json:"state" validate:"required,notblank"`
}

// JobFinishedData is the payload of Microsoft.Media.JobFinished.
type JobFinishedData struct {
	CorrelationData *Correlation `json:"correlationData" validate:"required"`
	PreviousState   string       `json:"previousState,omitempty"`
	State           string       `json:"state,omitempty"`
}

// SubscriptionValidationData is sent once when an event subscription is created.
type SubscriptionValidationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl,omitempty"`
}
