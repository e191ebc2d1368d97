package main

import (
	"testing"
	"time"

	"github.com/resonance-ai/relay/internal/config"
	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/session"
	"github.com/resonance-ai/relay/internal/upstream"
)

func TestStatusFor(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name     string
		change   upstream.StateChange
		upstream string
		errText  string
	}{
		{
			name:     "subscribed",
			change:   upstream.StateChange{From: upstream.StateConnecting, To: upstream.StateSubscribed, At: at},
			upstream: hub.UpstreamConnected,
		},
		{
			name: "reconnecting with cause",
			change: upstream.StateChange{
				From: upstream.StateSubscribed,
				To:   upstream.StateReconnecting,
				Err:  upstream.ErrStaleConnection,
				At:   at,
			},
			upstream: hub.UpstreamDisconnected,
			errText:  upstream.ErrStaleConnection.Error(),
		},
		{
			name:     "connecting",
			change:   upstream.StateChange{From: upstream.StateDisconnected, To: upstream.StateConnecting, At: at},
			upstream: hub.UpstreamDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.change.Address = "tcp://127.0.0.1:5557"
			st := statusFor(tt.change)
			if st.Upstream != tt.upstream {
				t.Errorf("Upstream = %q, want %q", st.Upstream, tt.upstream)
			}
			if st.State != tt.change.To.String() {
				t.Errorf("State = %q, want %q", st.State, tt.change.To)
			}
			if st.Error != tt.errText {
				t.Errorf("Error = %q, want %q", st.Error, tt.errText)
			}
			if !st.Since.Equal(at) {
				t.Errorf("Since = %v, want %v", st.Since, at)
			}
			if st.Address != tt.change.Address {
				t.Errorf("Address = %q, want %q", st.Address, tt.change.Address)
			}
		})
	}
}

func TestSubscriberConfigDisablesWatchdog(t *testing.T) {
	c := config.UpstreamConfig{
		Address:            "tcp://127.0.0.1:5557",
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  time.Minute,
		ReadTimeout:        -1,
		BufferSize:         32,
	}

	sc := subscriberConfig(c)
	if sc.ReadTimeout != 0 {
		t.Errorf("ReadTimeout = %v, want 0 for negative config", sc.ReadTimeout)
	}
	if sc.ReconnectBaseWait != time.Second || sc.ReconnectMaxWait != time.Minute {
		t.Errorf("backoff = %v/%v, want 1s/1m", sc.ReconnectBaseWait, sc.ReconnectMaxWait)
	}
	if sc.FrameBufferSize != 32 || sc.MessageBufferSize != 32 {
		t.Errorf("buffers = %d/%d, want 32/32", sc.FrameBufferSize, sc.MessageBufferSize)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg, err := config.LoadWithDefaults("")
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}

	sc := sessionConfig(cfg, session.Disconnect)
	if sc.Overflow != session.Disconnect {
		t.Errorf("Overflow = %v, want disconnect", sc.Overflow)
	}
	if sc.QueueSize != config.DefaultQueueSize {
		t.Errorf("QueueSize = %d, want %d", sc.QueueSize, config.DefaultQueueSize)
	}
	if sc.WriteTimeout != cfg.Server.WriteTimeout {
		t.Errorf("WriteTimeout = %v, want %v", sc.WriteTimeout, cfg.Server.WriteTimeout)
	}
}
