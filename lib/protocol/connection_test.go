// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/meridian-observability/meridian/lib/metrics"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/testutil"
)

// fakeTransport records frames written through the connection.
type fakeTransport struct {
	frames []any
	err    error
}

func (t *fakeTransport) WriteFrame(payload any) error {
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, payload)
	return nil
}

// stubProcessor claims messages per its claim function and records
// what it saw.
type stubProcessor struct {
	claim func(any) bool
	seen  []any
}

func (p *stubProcessor) HandleMessage(message any) bool {
	p.seen = append(p.seen, message)
	return p.claim(message)
}

func (p *stubProcessor) InitializeMetrics(*metrics.Metrics) {}

type panickingProcessor struct{}

func (panickingProcessor) HandleMessage(any) bool {
	panic("boom")
}

func (panickingProcessor) InitializeMetrics(*metrics.Metrics) {}

func newTestConnection(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	return NewConnection(testutil.Logger(t), transport), transport
}

func TestDispatchFirstClaimWins(t *testing.T) {
	conn, _ := newTestConnection(t)
	first := &stubProcessor{claim: func(any) bool { return true }}
	second := &stubProcessor{claim: func(any) bool { return true }}
	conn.Attach(first, second)

	conn.Dispatch("message")

	if len(first.seen) != 1 {
		t.Errorf("first processor saw %d messages, want 1", len(first.seen))
	}
	if len(second.seen) != 0 {
		t.Errorf("second processor saw %d messages, want 0 after first claimed", len(second.seen))
	}
}

func TestDispatchFallsThroughUnclaimed(t *testing.T) {
	conn, _ := newTestConnection(t)
	first := &stubProcessor{claim: func(any) bool { return false }}
	second := &stubProcessor{claim: func(any) bool { return true }}
	conn.Attach(first, second)

	conn.Dispatch("message")

	if len(first.seen) != 1 || len(second.seen) != 1 {
		t.Errorf("chain offers = %d, %d; want 1, 1", len(first.seen), len(second.seen))
	}
}

func TestDispatchUnclaimedIsSilent(t *testing.T) {
	conn, transport := newTestConnection(t)
	conn.Attach(&stubProcessor{claim: func(any) bool { return false }})

	// Must not panic, error, or write anything.
	conn.Dispatch("nobody wants this")

	if len(transport.frames) != 0 {
		t.Errorf("unclaimed message produced %d frames", len(transport.frames))
	}
}

func TestDispatchSurvivesPanickingProcessor(t *testing.T) {
	conn, _ := newTestConnection(t)
	after := &stubProcessor{claim: func(any) bool { return true }}
	conn.Attach(panickingProcessor{}, after)

	conn.Dispatch("message")

	if len(after.seen) != 1 {
		t.Error("processor after a panicking one was not offered the message")
	}

	// The session stays usable for subsequent messages.
	conn.Dispatch("again")
	if len(after.seen) != 2 {
		t.Error("chain unavailable after processor panic")
	}
}

func TestSendSwallowsTransportErrors(t *testing.T) {
	transport := &fakeTransport{err: errors.New("wire fell over")}
	conn := NewConnection(testutil.Logger(t), transport)

	// Must not panic; the error stays inside the connection.
	conn.Send(Ack{Response: "ok"})
}

func TestHeartbeat(t *testing.T) {
	conn, transport := newTestConnection(t)
	heartbeat := NewHeartbeatProcessor(conn)
	conn.Attach(heartbeat)

	sink := metrics.New()
	conn.InitializeMetrics(sink)

	conn.Dispatch(Command{Name: "heartbeat"})

	if got := sink.Counter(HeartbeatCounter); got != 1 {
		t.Errorf("heartbeat counter = %d, want 1", got)
	}
	if len(transport.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(transport.frames))
	}
	ack, ok := transport.frames[0].(Ack)
	if !ok || ack.Response != "ok" {
		t.Errorf("frame = %#v, want Ack{Response: ok}", transport.frames[0])
	}
}

func TestHeartbeatIgnoresOtherCommands(t *testing.T) {
	conn, transport := newTestConnection(t)
	conn.Attach(NewHeartbeatProcessor(conn))

	sink := metrics.New()
	conn.InitializeMetrics(sink)

	// A command that is well-formed but not a heartbeat: unclaimed,
	// unanswered, uncounted.
	conn.Dispatch(Command{Name: "ping"})

	if got := sink.Counter(HeartbeatCounter); got != 0 {
		t.Errorf("heartbeat counter = %d after non-heartbeat command, want 0", got)
	}
	if len(transport.frames) != 0 {
		t.Errorf("non-heartbeat command produced %d frames", len(transport.frames))
	}
}

func TestHeartbeatIgnoresNonCommands(t *testing.T) {
	conn, transport := newTestConnection(t)
	conn.Attach(NewHeartbeatProcessor(conn))
	conn.InitializeMetrics(metrics.New())

	conn.Dispatch("not a command")
	conn.Dispatch(42)

	if len(transport.frames) != 0 {
		t.Errorf("non-command messages produced %d frames", len(transport.frames))
	}
}

func TestInitializeMetricsResetsInterval(t *testing.T) {
	conn, _ := newTestConnection(t)
	conn.Attach(NewHeartbeatProcessor(conn))

	sink := metrics.New()
	conn.InitializeMetrics(sink)
	conn.Dispatch(Command{Name: "heartbeat"})
	conn.Dispatch(Command{Name: "heartbeat"})

	if got := sink.Counter(HeartbeatCounter); got != 2 {
		t.Fatalf("counter before reset = %d, want 2", got)
	}

	// A new reporting interval starts with the counter declared at
	// zero.
	conn.InitializeMetrics(sink)
	if got := sink.Counter(HeartbeatCounter); got != 0 {
		t.Errorf("counter after interval reset = %d, want 0", got)
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	conn, transport := newTestConnection(t)
	subscribe := NewSubscribeProcessor(conn)
	conn.Attach(NewHeartbeatProcessor(conn), subscribe)

	sink := metrics.New()
	conn.InitializeMetrics(sink)

	r := buildRecord(t, "evt-1", "prod", "frontend", "web-01")
	if subscribe.Matches(r) {
		t.Error("fresh session matches records before any subscribe")
	}

	conn.Dispatch(Command{
		Name:       "subscribe",
		Attributes: map[string]any{"patterns": []any{"prod/**"}},
	})

	if !subscribe.Matches(r) {
		t.Error("subscribed pattern does not match record")
	}
	if subscribe.Matches(buildRecord(t, "evt-2", "staging", "frontend", "web-01")) {
		t.Error("record outside pattern matched")
	}
	if got := sink.Counter(SubscribeCounter); got != 1 {
		t.Errorf("subscribe counter = %d, want 1", got)
	}

	update, ok := transport.frames[len(transport.frames)-1].(SubscriptionUpdate)
	if !ok {
		t.Fatalf("last frame = %#v, want SubscriptionUpdate", transport.frames[len(transport.frames)-1])
	}
	if len(update.Patterns) != 1 || update.Patterns[0] != "prod/**" {
		t.Errorf("update patterns = %v, want [prod/**]", update.Patterns)
	}

	conn.Dispatch(Command{
		Name:       "unsubscribe",
		Attributes: map[string]any{"patterns": []any{"prod/**"}},
	})

	if subscribe.Matches(r) {
		t.Error("record still matched after unsubscribe")
	}
	if got := sink.Counter(UnsubscribeCounter); got != 1 {
		t.Errorf("unsubscribe counter = %d, want 1", got)
	}
}

func TestSubscribeWithoutPatternsStillAcks(t *testing.T) {
	conn, transport := newTestConnection(t)
	subscribe := NewSubscribeProcessor(conn)
	conn.Attach(subscribe)
	conn.InitializeMetrics(metrics.New())

	conn.Dispatch(Command{Name: "subscribe", Attributes: map[string]any{"patterns": "not-a-list"}})

	if len(transport.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(transport.frames))
	}
	update := transport.frames[0].(SubscriptionUpdate)
	if len(update.Patterns) != 0 {
		t.Errorf("patterns = %v, want empty", update.Patterns)
	}
}

func TestDimensionPath(t *testing.T) {
	r := buildRecord(t, "evt-1", "prod", "frontend", "web-01")
	if got := DimensionPath(r); got != "prod/frontend/web-01" {
		t.Errorf("DimensionPath = %q, want prod/frontend/web-01", got)
	}
}

func buildRecord(t *testing.T, id, cluster, service, host string) *record.Record {
	t.Helper()
	r, err := record.NewBuilder().
		SetID(id).
		SetTime(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)).
		SetMetrics(map[string]record.Metric{}).
		SetAnnotations(map[string]string{
			"cluster": cluster,
			"service": service,
			"host":    host,
		}).
		Build()
	if err != nil {
		t.Fatalf("building record: %v", err)
	}
	return r
}
