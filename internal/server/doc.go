// Package server exposes the relay over HTTP: dashboard assets, the viewer
// WebSocket endpoint, health and debug endpoints, and Prometheus metrics.
package server
