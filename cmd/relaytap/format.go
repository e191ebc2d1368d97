package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/model"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// formatEvent renders one relay frame as a console line.
func formatEvent(frame []byte, verbose bool) string {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Sprintf("[INVALID] %v: %q", err, truncate(frame, 120))
	}

	if verbose {
		var out bytes.Buffer
		if err := json.Indent(&out, env.Data, "", "  "); err != nil {
			return fmt.Sprintf("[%s] %s", strings.ToUpper(env.Event), env.Data)
		}
		return fmt.Sprintf("[%s] %s", strings.ToUpper(env.Event), out.String())
	}

	switch env.Event {
	case hub.EventTelemetry:
		msg, err := model.Decode(env.Data)
		if err != nil {
			return fmt.Sprintf("[TELEMETRY] undecodable: %v", err)
		}
		line := fmt.Sprintf("[TELEMETRY] mse=%.4f severity=%s spectrogram=%t",
			msg.MSE, msg.Severity, msg.HasSpectrogram())
		if msg.Alert != "" {
			line += fmt.Sprintf(" alert=%q", msg.Alert)
		}
		return line

	case hub.EventStatus:
		var st hub.Status
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return fmt.Sprintf("[STATUS] undecodable: %v", err)
		}
		line := fmt.Sprintf("[STATUS] upstream=%s state=%s", st.Upstream, st.State)
		if st.Error != "" {
			line += fmt.Sprintf(" error=%q", st.Error)
		}
		return line

	default:
		return fmt.Sprintf("[%s] %s", strings.ToUpper(env.Event), truncate(env.Data, 120))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
