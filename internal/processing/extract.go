package processing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/goccy/go-json"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// ExtractProgress builds the snapshot for a JobOutputProgress payload.
func ExtractProgress(data json.RawMessage) (AssetState, error) {
	var payload JobOutputProgressData
	if err := decodePayload(data, &payload); err != nil {
		return AssetState{}, err
	}

	progress, err := parseProgress(payload.Progress)
	if err != nil {
		return AssetState{}, err
	}

	return AssetState{
		Name:     payload.JobCorrelationData.AssetName,
		State:    StateProcessing,
		Progress: &progress,
	}, nil
}

// ExtractStateChange builds the snapshot for a JobStateChange payload.
// The state label is passed through verbatim.
func ExtractStateChange(data json.RawMessage) (AssetState, error) {
	var payload JobStateChangeData
	if err := decodePayload(data, &payload); err != nil {
		return AssetState{}, err
	}

	return AssetState{
		Name:  payload.CorrelationData.AssetName,
		State: payload.State,
	}, nil
}

// ExtractFinished returns the asset name of a JobFinished payload.
func ExtractFinished(data json.RawMessage) (string, error) {
	var payload JobFinishedData
	if err := decodePayload(data, &payload); err != nil {
		return "", err
	}
	return payload.CorrelationData.AssetName, nil
}

func decodePayload(data json.RawMessage, into any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: event has no data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrMalformedEvent, err)
	}
	return validatePayload(into)
}

func validatePayload(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		fields = append(fields, "data."+ns)
	}
	return fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(fields, ", "))
}

// parseProgress accepts an integer or a string holding one, within 0-100.
func parseProgress(raw any) (int, error) {
	var progress int
	switch v := raw.(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing data.progress", ErrMalformedEvent)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: progress %q is not an integer", ErrMalformedEvent, v)
		}
		progress = n
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: progress %v is not an integer", ErrMalformedEvent, v)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: progress %v out of range", ErrMalformedEvent, v)
		}
		progress = int(v)
	default:
		return 0, fmt.Errorf("%w: progress has type %T", ErrMalformedEvent, raw)
	}

	if progress < 0 || progress > 100 {
		return 0, fmt.Errorf("%w: progress %d outside 0-100", ErrMalformedEvent, progress)
	}
	return progress, nil
}
