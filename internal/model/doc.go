// Package model defines the telemetry record relayed from the inference
// process to dashboard viewers, and the decoding of its wire frames.
//
// Conventions:
//   - Frames are UTF-8 JSON objects; the original bytes are kept in Raw and
//     forwarded to viewers unchanged
//   - Spectrograms are 1024 frequency bins × 64 time frames of little-endian
//     float32, frequency-major, base64 on the wire
package model
