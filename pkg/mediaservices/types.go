package mediaservices

import (
	"errors"
	"fmt"
	"net/http"
)

// StreamingPolicy names a predefined streaming policy.
type StreamingPolicy string

// PolicyClearStreamingOnly streams without encryption.
const PolicyClearStreamingOnly StreamingPolicy = "Predefined_ClearStreamingOnly"

type StreamingLocatorProperties struct {
	AssetName           string          `json:"assetName"`
	StreamingPolicyName StreamingPolicy `json:"streamingPolicyName"`
	StreamingLocatorID  string          `json:"streamingLocatorId,omitempty"`
	Created             string          `json:"created,omitempty"`
	StartTime           string          `json:"startTime,omitempty"`
	EndTime             string          `json:"endTime,omitempty"`
}

// StreamingLocator is the management API resource.
type StreamingLocator struct {
	ID         string                     `json:"id,omitempty"`
	Name       string                     `json:"name,omitempty"`
	Type       string                     `json:"type,omitempty"`
	Properties StreamingLocatorProperties `json:"properties"`
}

// APIError is a non-2xx answer from the management API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("media services: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("media services: %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the management API.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
