package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

const interval = 2 * time.Second

var errDown = errors.New("connection refused")

type step struct {
	reading entities.SensorReading
	err     error
	// gate, when set, holds the read until closed regardless of ctx
	gate chan struct{}
}

func ok(temp float64) step { return step{reading: entities.SensorReading{Temperature: temp, Humidity: 40}} }
func fail() step           { return step{err: errDown} }

// fakeReader plays steps in order and fails once they run out.
type fakeReader struct {
	mu    sync.Mutex
	steps []step
	clock clock.Clock
	calls chan time.Time
}

func newFakeReader(clk clock.Clock, steps ...step) *fakeReader {
	return &fakeReader{steps: steps, clock: clk, calls: make(chan time.Time, 64)}
}

func (f *fakeReader) ReadSensors(ctx context.Context) (entities.SensorReading, error) {
	f.mu.Lock()
	s := fail()
	if len(f.steps) > 0 {
		s = f.steps[0]
		f.steps = f.steps[1:]
	}
	f.mu.Unlock()

	f.calls <- f.clock.Now()
	if s.gate != nil {
		<-s.gate
	}
	return s.reading, s.err
}

func next(t *testing.T, ch <-chan entities.Snapshot) entities.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		test.That(t, ok, test.ShouldBeTrue)
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return entities.Snapshot{}
}

func waitCall(t *testing.T, f *fakeReader) time.Time {
	t.Helper()
	select {
	case at := <-f.calls:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device read")
	}
	return time.Time{}
}

// start runs m in the background and returns a stop function that cancels and waits.
func start(t *testing.T, m *Monitor) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestInitialState(t *testing.T) {
	m := New(newFakeReader(clock.NewMock()))
	s := m.Snapshot()
	test.That(t, s.Latest, test.ShouldBeNil)
	test.That(t, s.Online, test.ShouldBeFalse)
	test.That(t, s.Seq, test.ShouldEqual, uint64(0))

	select {
	case <-m.Ready():
		t.Fatal("ready before the first attempt")
	default:
	}
}

func TestFirstAttemptIsImmediate(t *testing.T) {
	mock := clock.NewMock()
	t0 := mock.Now()
	reader := newFakeReader(mock, ok(22))
	m := New(reader, WithClock(mock), WithInterval(interval))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	test.That(t, next(t, ch).Seq, test.ShouldEqual, uint64(0))

	start(t, m)
	test.That(t, waitCall(t, reader), test.ShouldEqual, t0)

	s := next(t, ch)
	test.That(t, s.Online, test.ShouldBeTrue)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 22.0)
	test.That(t, s.UpdatedAt, test.ShouldEqual, t0)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("not ready after the first attempt")
	}
}

func TestOnlineOfflineOnline(t *testing.T) {
	mock := clock.NewMock()
	t0 := mock.Now()
	reader := newFakeReader(mock, ok(22), fail(), ok(23))
	m := New(reader, WithClock(mock), WithInterval(interval), WithLogger(zaptest.NewLogger(t).Sugar()))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	next(t, ch)
	start(t, m)

	// t=0
	test.That(t, waitCall(t, reader), test.ShouldEqual, t0)
	s := next(t, ch)
	test.That(t, s.Online, test.ShouldBeTrue)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 22.0)

	// t=2000ms: failure keeps the old reading
	mock.Add(interval)
	test.That(t, waitCall(t, reader), test.ShouldEqual, t0.Add(interval))
	s = next(t, ch)
	test.That(t, s.Online, test.ShouldBeFalse)
	test.That(t, s.Latest, test.ShouldNotBeNil)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 22.0)
	test.That(t, s.Stale(), test.ShouldBeTrue)
	test.That(t, s.ConsecutiveFailures, test.ShouldEqual, 1)
	test.That(t, s.UpdatedAt, test.ShouldEqual, t0)
	test.That(t, s.CheckedAt, test.ShouldEqual, t0.Add(interval))

	// t=4000ms
	mock.Add(interval)
	test.That(t, waitCall(t, reader), test.ShouldEqual, t0.Add(2*interval))
	s = next(t, ch)
	test.That(t, s.Online, test.ShouldBeTrue)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 23.0)
	test.That(t, s.ConsecutiveFailures, test.ShouldEqual, 0)
	test.That(t, s.Seq, test.ShouldEqual, uint64(3))

	test.That(t, m.Snapshot(), test.ShouldResemble, s)
}

func TestNoReadingUntilFirstSuccess(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, fail(), fail())
	m := New(reader, WithClock(mock), WithInterval(interval))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	next(t, ch)
	start(t, m)

	s := next(t, ch)
	test.That(t, s.Online, test.ShouldBeFalse)
	test.That(t, s.Latest, test.ShouldBeNil)
	test.That(t, s.NeverConnected(), test.ShouldBeTrue)

	mock.Add(interval)
	s = next(t, ch)
	test.That(t, s.Latest, test.ShouldBeNil)
	test.That(t, s.ConsecutiveFailures, test.ShouldEqual, 2)
}

func TestTicksDuringSlowReadAreCoalesced(t *testing.T) {
	mock := clock.NewMock()
	gate := make(chan struct{})
	slow := ok(21)
	slow.gate = gate
	reader := newFakeReader(mock, slow, ok(22), ok(23))
	m := New(reader, WithClock(mock), WithInterval(interval))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	next(t, ch)
	start(t, m)

	waitCall(t, reader)
	// three intervals pass while the first read hangs
	mock.Add(interval)
	mock.Add(interval)
	mock.Add(interval)
	close(gate)

	test.That(t, next(t, ch).Latest.Temperature, test.ShouldEqual, 21.0)
	waitCall(t, reader)
	test.That(t, next(t, ch).Latest.Temperature, test.ShouldEqual, 22.0)

	select {
	case <-reader.calls:
		t.Fatal("missed ticks were replayed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoMutationAfterTeardown(t *testing.T) {
	mock := clock.NewMock()
	gate := make(chan struct{})
	late := ok(99)
	late.gate = gate
	reader := newFakeReader(mock, ok(22), late)
	m := New(reader, WithClock(mock), WithInterval(interval))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	next(t, ch)
	cancel, done := start(t, m)
	waitCall(t, reader)

	before := next(t, ch)
	mock.Add(interval)
	// the gated read is in flight
	waitCall(t, reader)

	// torn down while the read is in flight, then the read resolves
	cancel()
	close(gate)
	<-done

	test.That(t, m.Snapshot(), test.ShouldResemble, before)
	select {
	case s := <-ch:
		t.Fatalf("snapshot published after teardown: %+v", s)
	default:
	}

	// nothing is scheduled any more
	mock.Add(5 * interval)
	select {
	case <-reader.calls:
		t.Fatal("read after teardown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberGetsNewest(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, ok(1), ok(2), ok(3), ok(4))
	m := New(reader, WithClock(mock), WithInterval(interval))

	slow, unsubscribeSlow := m.Subscribe()
	defer unsubscribeSlow()
	fast, unsubscribeFast := m.Subscribe()
	defer unsubscribeFast()
	next(t, fast)
	start(t, m)

	next(t, fast)
	for i := 0; i < 3; i++ {
		mock.Add(interval)
		next(t, fast)
	}

	s := next(t, slow)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 4.0)
	test.That(t, s.Seq, test.ShouldEqual, uint64(4))
}

func TestUnsubscribe(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, ok(1), ok(2))
	m := New(reader, WithClock(mock), WithInterval(interval))

	gone, unsubscribe := m.Subscribe()
	other, unsubscribeOther := m.Subscribe()
	defer unsubscribeOther()
	next(t, other)
	next(t, gone)
	unsubscribe()
	unsubscribe()

	_, open := <-gone
	test.That(t, open, test.ShouldBeFalse)

	start(t, m)
	next(t, other)
	mock.Add(interval)
	test.That(t, next(t, other).Latest.Temperature, test.ShouldEqual, 2.0)
}

func TestSubscribeLateGetsCurrent(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, ok(22))
	m := New(reader, WithClock(mock), WithInterval(interval))
	start(t, m)
	<-m.Ready()

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	s := next(t, ch)
	test.That(t, s.Online, test.ShouldBeTrue)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 22.0)
}

func TestChangeFuncOnTransitions(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, ok(1), ok(2), fail(), fail(), ok(3))

	var mu sync.Mutex
	var flips []bool
	m := New(reader, WithClock(mock), WithInterval(interval), WithChangeFunc(func(prev, cur entities.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		test.That(t, prev.Online, test.ShouldNotEqual, cur.Online)
		flips = append(flips, cur.Online)
	}))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	next(t, ch)
	start(t, m)
	next(t, ch)
	for i := 0; i < 4; i++ {
		mock.Add(interval)
		next(t, ch)
	}

	mu.Lock()
	defer mu.Unlock()
	test.That(t, flips, test.ShouldResemble, []bool{true, false, true})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	test.That(t, c.Write(&pb), test.ShouldBeNil)
	return pb.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var pb dto.Metric
	test.That(t, g.Write(&pb), test.ShouldBeNil)
	return pb.GetGauge().GetValue()
}

func TestMetrics(t *testing.T) {
	mock := clock.NewMock()
	reader := newFakeReader(mock, ok(22), fail(), fail())
	metrics := NewMetrics(prometheus.NewRegistry())
	m := New(reader, WithClock(mock), WithInterval(interval), WithMetrics(metrics))

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	test.That(t, gaugeValue(t, metrics.Subscribers), test.ShouldEqual, 1.0)
	next(t, ch)
	start(t, m)
	next(t, ch)
	mock.Add(interval)
	next(t, ch)
	mock.Add(interval)
	next(t, ch)

	test.That(t, counterValue(t, metrics.Attempts.WithLabelValues("ok")), test.ShouldEqual, 1.0)
	test.That(t, counterValue(t, metrics.Attempts.WithLabelValues("fail")), test.ShouldEqual, 2.0)
	test.That(t, gaugeValue(t, metrics.Online), test.ShouldEqual, 0.0)
	test.That(t, gaugeValue(t, metrics.ConsecutiveFailures), test.ShouldEqual, 2.0)
	test.That(t, gaugeValue(t, metrics.Reading.WithLabelValues("temperature")), test.ShouldEqual, 22.0)

	unsubscribe()
	test.That(t, gaugeValue(t, metrics.Subscribers), test.ShouldEqual, 0.0)
}
