package processing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// StateProcessing is the state reported with every progress update.
const StateProcessing = "Processing"

// AssetState is the point-in-time asset snapshot pushed to clients.
// Field names are part of the client contract.
type AssetState struct {
	Name     string `json:"Name"`
	State    string `json:"State"`
	Progress *int   `json:"Progress,omitempty"`
}

// Validate enforces the invariants every emitted snapshot must hold.
func (s AssetState) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("asset name is empty")
	}
	if strings.TrimSpace(s.State) == "" {
		return errors.New("asset state is empty")
	}
	if s.Progress != nil && (*s.Progress < 0 || *s.Progress > 100) {
		return fmt.Errorf("progress %d outside 0-100", *s.Progress)
	}
	return nil
}

// Serialize renders the snapshot in its wire form.
func (s AssetState) Serialize() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal asset state: %w", err)
	}
	return string(b), nil
}
