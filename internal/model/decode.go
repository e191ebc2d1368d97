package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// DecodeError reports a frame that does not match the telemetry schema.
type DecodeError struct {
	Field string // Offending field, "" for document-level errors
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode telemetry: " + e.Err.Error()
	}
	return fmt.Sprintf("decode telemetry: field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	errInvalidUTF8 = errors.New("frame is not valid UTF-8")
	errMissing     = errors.New("required field missing")
	errNegative    = errors.New("must be non-negative")
	errNonFinite   = errors.New("must be finite")
)

// telemetryWire keeps fields raw so presence and type can be checked apart.
// Keys must match exactly: viewers read the forwarded frame by these names.
type telemetryWire struct {
	MSE         json.RawMessage
	Severity    json.RawMessage
	Alert       json.RawMessage
	Spectrogram json.RawMessage
}

func parseWire(doc []byte) (telemetryWire, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return telemetryWire{}, err
	}
	return telemetryWire{
		MSE:         fields["mse"],
		Severity:    fields["severity"],
		Alert:       fields["alert"],
		Spectrogram: fields["spectrogram"],
	}, nil
}

var jsonNull = []byte("null")

// Decode parses a wire frame into a TelemetryMessage. Any schema violation
// returns a *DecodeError; the frame must then be dropped.
func Decode(frame []byte) (TelemetryMessage, error) {
	if !utf8.Valid(frame) {
		return TelemetryMessage{}, &DecodeError{Err: errInvalidUTF8}
	}

	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TelemetryMessage{}, &DecodeError{Err: errors.New("frame is not a JSON object")}
	}

	wire, err := parseWire(trimmed)
	if err != nil {
		return TelemetryMessage{}, &DecodeError{Err: err}
	}

	msg := TelemetryMessage{Raw: frame}

	if absent(wire.MSE) {
		return TelemetryMessage{}, &DecodeError{Field: "mse", Err: errMissing}
	}
	if err := json.Unmarshal(wire.MSE, &msg.MSE); err != nil {
		return TelemetryMessage{}, &DecodeError{Field: "mse", Err: err}
	}
	if math.IsNaN(msg.MSE) || math.IsInf(msg.MSE, 0) {
		return TelemetryMessage{}, &DecodeError{Field: "mse", Err: errNonFinite}
	}
	if msg.MSE < 0 {
		return TelemetryMessage{}, &DecodeError{Field: "mse", Err: errNegative}
	}

	if absent(wire.Severity) {
		return TelemetryMessage{}, &DecodeError{Field: "severity", Err: errMissing}
	}
	var severity string
	if err := json.Unmarshal(wire.Severity, &severity); err != nil {
		return TelemetryMessage{}, &DecodeError{Field: "severity", Err: err}
	}
	sev, err := ParseSeverity(severity)
	if err != nil {
		return TelemetryMessage{}, &DecodeError{Field: "severity", Err: err}
	}
	msg.Severity = sev

	if !absent(wire.Alert) {
		if err := json.Unmarshal(wire.Alert, &msg.Alert); err != nil {
			return TelemetryMessage{}, &DecodeError{Field: "alert", Err: err}
		}
	}

	if !absent(wire.Spectrogram) {
		spec, err := decodeSpectrogram(wire.Spectrogram)
		if err != nil {
			return TelemetryMessage{}, &DecodeError{Field: "spectrogram", Err: err}
		}
		msg.Spectrogram = spec
	}

	return msg, nil
}

func absent(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(raw, jsonNull)
}

func decodeSpectrogram(raw json.RawMessage) (Spectrogram, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(data) != SpectrogramBytes {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(data), SpectrogramBytes)
	}
	return Spectrogram(data), nil
}
