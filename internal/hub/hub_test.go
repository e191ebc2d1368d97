package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/resonance-ai/relay/internal/model"
)

// fakeSession records every event it is handed.
type fakeSession struct {
	id     string
	accept bool

	mu     sync.Mutex
	events []Event
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, accept: true}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Enqueue(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSession) received(name string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// stalledSession refuses every event, like a session whose queue is full.
type stalledSession struct {
	id string
}

func (s *stalledSession) ID() string { return s.id }

func (s *stalledSession) Enqueue(Event) bool { return false }

func mustDecode(t *testing.T, frame string) model.TelemetryMessage {
	t.Helper()
	msg, err := model.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode(%s) failed: %v", frame, err)
	}
	return msg
}

func TestNewEvent_Envelope(t *testing.T) {
	data := []byte(`{"mse":0.31, "severity":"HIGH","alert":"<b>&</b>"}`)
	ev := NewEvent(EventTelemetry, data)

	want := `{"event":"node_b_data","data":{"mse":0.31, "severity":"HIGH","alert":"<b>&</b>"}}`
	if string(ev.Frame) != want {
		t.Errorf("Frame = %s\nwant    %s", ev.Frame, want)
	}

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(ev.Frame, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if string(env.Data) != string(data) {
		t.Errorf("data = %s, want verbatim %s", env.Data, data)
	}
}

func TestHub_FanOut(t *testing.T) {
	h := New(nil, nil)

	sessions := []*fakeSession{newFakeSession("a"), newFakeSession("b"), newFakeSession("c")}
	for _, s := range sessions {
		h.Register(s)
	}

	msg := mustDecode(t, `{"mse":0.31,"severity":"HIGH","alert":"Vibration spike"}`)
	if n := h.Publish(msg); n != 3 {
		t.Errorf("Publish delivered to %d sessions, want 3", n)
	}

	want := `{"event":"node_b_data","data":{"mse":0.31,"severity":"HIGH","alert":"Vibration spike"}}`
	for _, s := range sessions {
		got := s.received(EventTelemetry)
		if len(got) != 1 {
			t.Fatalf("session %s received %d events, want 1", s.id, len(got))
		}
		if string(got[0].Frame) != want {
			t.Errorf("session %s frame = %s, want %s", s.id, got[0].Frame, want)
		}
	}

	// Late joiner never sees the earlier message
	late := newFakeSession("d")
	h.Register(late)
	if got := late.received(EventTelemetry); len(got) != 0 {
		t.Errorf("late session received %d telemetry events, want 0", len(got))
	}
}

func TestHub_Ordering(t *testing.T) {
	h := New(nil, nil)
	s := newFakeSession("a")
	h.Register(s)

	for i := 0; i < 100; i++ {
		h.Publish(mustDecode(t, fmt.Sprintf(`{"mse":%d,"severity":"NORMAL"}`, i)))
	}

	got := s.received(EventTelemetry)
	if len(got) != 100 {
		t.Fatalf("received %d events, want 100", len(got))
	}
	for i, ev := range got {
		want := fmt.Sprintf(`{"event":"node_b_data","data":{"mse":%d,"severity":"NORMAL"}}`, i)
		if string(ev.Frame) != want {
			t.Fatalf("event %d = %s, want %s", i, ev.Frame, want)
		}
	}
}

func TestHub_Isolation(t *testing.T) {
	h := New(nil, nil)

	stalled := &stalledSession{id: "stalled"}
	healthy := newFakeSession("healthy")
	h.Register(stalled)
	h.Register(healthy)

	for i := 0; i < 10; i++ {
		h.Publish(mustDecode(t, `{"mse":0.1,"severity":"LOW"}`))
	}

	if got := len(healthy.received(EventTelemetry)); got != 10 {
		t.Errorf("healthy session received %d, want 10", got)
	}

	stats := h.Stats()
	if stats.Misses != 10 {
		t.Errorf("Misses = %d, want 10", stats.Misses)
	}
	if stats.Deliveries != 10 {
		t.Errorf("Deliveries = %d, want 10", stats.Deliveries)
	}
	if stats.Published != 10 {
		t.Errorf("Published = %d, want 10", stats.Published)
	}
}

func TestHub_RegisterOverwrite(t *testing.T) {
	h := New(nil, nil)

	first := newFakeSession("same")
	second := newFakeSession("same")
	h.Register(first)
	h.Register(second)

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}

	h.Publish(mustDecode(t, `{"mse":0.1,"severity":"LOW"}`))

	if len(first.received(EventTelemetry)) != 0 {
		t.Error("overwritten session should not receive events")
	}
	if len(second.received(EventTelemetry)) != 1 {
		t.Error("replacement session should receive the event")
	}
}

func TestHub_Unregister(t *testing.T) {
	h := New(nil, nil)
	s := newFakeSession("a")
	h.Register(s)

	if !h.Unregister("a") {
		t.Error("Unregister(a) = false, want true")
	}
	if h.Unregister("a") {
		t.Error("second Unregister(a) should be a no-op")
	}
	if h.Unregister("missing") {
		t.Error("Unregister(missing) should be a no-op")
	}

	if n := h.Publish(mustDecode(t, `{"mse":0.1,"severity":"LOW"}`)); n != 0 {
		t.Errorf("Publish after unregister delivered to %d", n)
	}
}

func TestHub_PublishEmptyRaw(t *testing.T) {
	h := New(nil, nil)
	s := newFakeSession("a")
	h.Register(s)

	if n := h.Publish(model.TelemetryMessage{}); n != 0 {
		t.Errorf("Publish of message without frame delivered to %d", n)
	}
}

func TestHub_StatusOnRegister(t *testing.T) {
	h := New(nil, nil)

	if _, ok := h.Status(); ok {
		t.Error("Status() should be unset initially")
	}

	early := newFakeSession("early")
	h.Register(early)
	if len(early.received(EventStatus)) != 0 {
		t.Error("no status should be sent before one is published")
	}

	st := Status{Upstream: UpstreamConnected, State: "subscribed", Since: time.Unix(1700000000, 0).UTC()}
	if n := h.PublishStatus(st); n != 1 {
		t.Errorf("PublishStatus delivered to %d, want 1", n)
	}

	late := newFakeSession("late")
	h.Register(late)

	for _, s := range []*fakeSession{early, late} {
		got := s.received(EventStatus)
		if len(got) != 1 {
			t.Fatalf("session %s received %d status events, want 1", s.id, len(got))
		}
		var env struct {
			Data Status `json:"data"`
		}
		if err := json.Unmarshal(got[0].Frame, &env); err != nil {
			t.Fatalf("status frame invalid: %v", err)
		}
		if env.Data.Upstream != UpstreamConnected || env.Data.State != "subscribed" {
			t.Errorf("session %s status = %+v", s.id, env.Data)
		}
	}
}

func TestHub_Sessions(t *testing.T) {
	h := New(nil, nil)
	h.Register(newFakeSession("b"))
	h.Register(newFakeSession("a"))

	ids := h.Sessions()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Sessions() = %v, want [a b]", ids)
	}
}

// A session observed by a publish snapshot gets exactly one copy; concurrent
// register/unregister churn never duplicates a message.
func TestHub_ConcurrentChurn(t *testing.T) {
	h := New(nil, nil)

	stable := newFakeSession("stable")
	h.Register(stable)

	const messages = 500
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				id := fmt.Sprintf("churn-%d-%d", w, i)
				h.Register(newFakeSession(id))
				h.Unregister(id)
			}
		}(w)
	}

	for i := 0; i < messages; i++ {
		h.Publish(mustDecode(t, fmt.Sprintf(`{"mse":%d,"severity":"NORMAL"}`, i)))
	}
	close(stop)
	wg.Wait()

	got := stable.received(EventTelemetry)
	if len(got) != messages {
		t.Fatalf("stable session received %d, want %d", len(got), messages)
	}
	for i, ev := range got {
		want := fmt.Sprintf(`{"event":"node_b_data","data":{"mse":%d,"severity":"NORMAL"}}`, i)
		if string(ev.Frame) != want {
			t.Fatalf("event %d out of order: %s", i, ev.Frame)
		}
	}
}
