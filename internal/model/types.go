package model

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Spectrogram dimensions fixed by the inference pipeline.
const (
	SpectrogramBins   = 1024 // Frequency bins (outer index)
	SpectrogramFrames = 64   // Time frames (inner index)
	SpectrogramBytes  = SpectrogramBins * SpectrogramFrames * 4
)

// DefaultThreshold is the reconstruction-error threshold used by the
// inference scorer to classify severity.
const DefaultThreshold = 0.08

// Severity is the categorical anomaly level of a measurement.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = [...]string{
	SeverityNormal: "NORMAL",
	SeverityLow:    "LOW",
	SeverityMedium: "MEDIUM",
	SeverityHigh:   "HIGH",
}

// String returns the wire name of the severity.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// IsAnomaly reports whether the severity is anything above NORMAL.
func (s Severity) IsAnomaly() bool {
	return s > SeverityNormal && s <= SeverityHigh
}

// ParseSeverity parses an exact wire name ("NORMAL", "LOW", "MEDIUM", "HIGH").
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q (want one of %s)", name, strings.Join(severityNames[:], ", "))
}

// ClassifySeverity maps a reconstruction error to a severity band:
// below t is NORMAL, below 2t LOW, below 4t MEDIUM, otherwise HIGH.
func ClassifySeverity(score, threshold float64) Severity {
	switch {
	case score < threshold:
		return SeverityNormal
	case score < threshold*2:
		return SeverityLow
	case score < threshold*4:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// TelemetryMessage is one decoded measurement. It is immutable once decoded;
// callers must not modify Raw or Spectrogram.
type TelemetryMessage struct {
	MSE         float64     // Reconstruction error, >= 0
	Severity    Severity    // Anomaly level
	Alert       string      // Optional human-readable alert, "" if absent
	Spectrogram Spectrogram // Optional, nil if absent
	Raw         []byte      // Exact frame bytes as received
}

// HasSpectrogram reports whether the message carried a spectrogram.
func (m TelemetryMessage) HasSpectrogram() bool {
	return len(m.Spectrogram) > 0
}

// Spectrogram holds the raw little-endian float32 grid.
type Spectrogram []byte

// At returns the value at frequency bin freq and time frame frame.
func (s Spectrogram) At(freq, frame int) float32 {
	i := (freq*SpectrogramFrames + frame) * 4
	return math.Float32frombits(binary.LittleEndian.Uint32(s[i : i+4]))
}

// Floats returns the grid as a flat frequency-major slice.
func (s Spectrogram) Floats() []float32 {
	out := make([]float32, len(s)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(s[i*4:]))
	}
	return out
}

// EncodeSpectrogram encodes a frequency-major grid into its wire form.
func EncodeSpectrogram(values []float32) (string, error) {
	if len(values) != SpectrogramBins*SpectrogramFrames {
		return "", fmt.Errorf("spectrogram has %d values, want %d", len(values), SpectrogramBins*SpectrogramFrames)
	}
	buf := make([]byte, SpectrogramBytes)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
