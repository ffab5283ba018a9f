package model

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// ValidationStatus is the outcome of the validation stage.
type ValidationStatus string

const (
	ValidationValid  ValidationStatus = "valid"
	ValidationFailed ValidationStatus = "failed"
)

// AnomaliesKey is the errors key under which anomalies are serialized.
const AnomaliesKey = "anomalies"

// ValidationResult holds rule failures and detected anomalies.
type ValidationResult struct {
	Status    ValidationStatus
	Errors    map[string]string
	Anomalies Anomalies
}

// NewValidationResult derives the status from errs and anomalies.
func NewValidationResult(errs map[string]string, anomalies Anomalies) *ValidationResult {
	vr := &ValidationResult{Errors: errs, Anomalies: anomalies, Status: ValidationValid}
	if vr.Errors == nil {
		vr.Errors = map[string]string{}
	}
	if len(vr.Errors) > 0 || len(vr.Anomalies) > 0 {
		vr.Status = ValidationFailed
	}
	return vr
}

// Valid reports whether no rule failed and no anomaly was found.
func (v *ValidationResult) Valid() bool {
	return v != nil && v.Status == ValidationValid
}

// FailedFields returns the sorted failing keys, including "anomalies" when
// any were found.
func (v *ValidationResult) FailedFields() []string {
	if v == nil {
		return nil
	}
	fields := make([]string, 0, len(v.Errors)+1)
	for k := range v.Errors {
		fields = append(fields, k)
	}
	if len(v.Anomalies) > 0 {
		fields = append(fields, AnomaliesKey)
	}
	sort.Strings(fields)
	return fields
}

type validationJSON struct {
	Status ValidationStatus           `json:"status"`
	Errors map[string]json.RawMessage `json:"errors"`
}

// MarshalJSON nests anomalies under errors.anomalies.
func (v ValidationResult) MarshalJSON() ([]byte, error) {
	out := validationJSON{Status: v.Status, Errors: make(map[string]json.RawMessage, len(v.Errors)+1)}
	for k, msg := range v.Errors {
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		out.Errors[k] = b
	}
	if len(v.Anomalies) > 0 {
		b, err := json.Marshal(v.Anomalies)
		if err != nil {
			return nil, err
		}
		out.Errors[AnomaliesKey] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (v *ValidationResult) UnmarshalJSON(data []byte) error {
	var in validationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return eris.Wrap(err, "model: decode validation result")
	}
	v.Status = in.Status
	v.Errors = make(map[string]string, len(in.Errors))
	v.Anomalies = nil
	for k, raw := range in.Errors {
		if k == AnomaliesKey {
			if err := json.Unmarshal(raw, &v.Anomalies); err != nil {
				return eris.Wrap(err, "model: decode anomalies")
			}
			continue
		}
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return eris.Wrapf(err, "model: decode validation error %q", k)
		}
		v.Errors[k] = msg
	}
	return nil
}
