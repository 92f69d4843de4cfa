package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
	"github.com/nerrad567/simplepub/internal/infrastructure/transport"
	"github.com/nerrad567/simplepub/internal/testutil/brokertest"
)

// trackingOpener dials addr and remembers the last connection it opened.
type trackingOpener struct {
	addr  string
	calls atomic.Int32

	mu   sync.Mutex
	conn *transport.Conn
}

func (o *trackingOpener) Open(ctx context.Context) (Transport, error) {
	o.calls.Add(1)
	conn, err := transport.Open(ctx, transport.Config{Scheme: transport.SchemeTCP, Address: o.addr})
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()
	return conn, nil
}

func (o *trackingOpener) last() *transport.Conn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn
}

// interceptTransport wraps a real connection, counts Close calls and can
// reject selected writes.
type interceptTransport struct {
	*transport.Conn

	rejectWrite func(p []byte) bool
	closes      atomic.Int32
}

func (c *interceptTransport) Write(p []byte) (int, error) {
	if c.rejectWrite != nil && c.rejectWrite(p) {
		return 0, errors.New("write rejected")
	}
	return c.Conn.Write(p)
}

func (c *interceptTransport) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// interceptOpener dials addr and hands out the wrapped connection via *out.
func interceptOpener(addr string, rejectWrite func(p []byte) bool, out **interceptTransport) Opener {
	return func(ctx context.Context) (Transport, error) {
		conn, err := transport.Open(ctx, transport.Config{Scheme: transport.SchemeTCP, Address: addr})
		if err != nil {
			return nil, err
		}
		*out = &interceptTransport{Conn: conn, rejectWrite: rejectWrite}
		return *out, nil
	}
}

// recorderFunc adapts a function to Recorder.
type recorderFunc func(ctx context.Context, r Report) error

func (f recorderFunc) Record(ctx context.Context, r Report) error { return f(ctx, r) }

func newTestRunner(addr string, opener *trackingOpener) *Runner {
	return &Runner{
		Open:         opener.Open,
		Broker:       addr,
		SendCapacity: 2048,
		RecvCapacity: 1024,
		Session:      []SessionOption{WithIOPoll(5 * time.Millisecond)},
		Connect:      testConnectOptions(),
		SyncPeriod:   DefaultSyncPeriod,
		PublishWait:  300 * time.Millisecond,
	}
}

func TestRunner_PublishesAndExitsSuccess(t *testing.T) {
	b := brokertest.Start(t)
	opener := &trackingOpener{addr: b.Addr()}
	r := newTestRunner(b.Addr(), opener)
	r.PublishWait = DefaultPublishWait

	start := time.Now()
	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusSuccess || report.Err != nil {
		t.Fatalf("Run() status = %v, err = %v, want success", report.Status, report.Err)
	}
	if elapsed := time.Since(start); elapsed < DefaultPublishWait {
		t.Errorf("Run() returned after %v, want at least the %v wait", elapsed, DefaultPublishWait)
	}

	msgs := b.Messages()
	if len(msgs) != 1 {
		t.Fatalf("broker messages = %d, want 1", len(msgs))
	}
	if msgs[0].Topic != "sensors/temp" || string(msgs[0].Payload) != "23.5" || msgs[0].QoS != 0 {
		t.Errorf("broker got %+v", msgs[0])
	}
	if got := b.WaitForDisconnects(1, time.Second); got != 1 {
		t.Errorf("broker DISCONNECTs = %d, want 1", got)
	}
	if opener.last().IsOpen() {
		t.Error("transport still open after Run")
	}

	if _, err := uuid.Parse(report.RunID); err != nil {
		t.Errorf("RunID %q is not a UUID: %v", report.RunID, err)
	}
	if report.ErrorKind != mqtt.KindOK || !report.Connected {
		t.Errorf("report kind = %v connected = %v, want ok/true", report.ErrorKind, report.Connected)
	}
	if report.Iterations < 5 {
		t.Errorf("report Iterations = %d, want about 10 over one second", report.Iterations)
	}
	if report.PayloadSize != 4 || report.Topic != "sensors/temp" || report.ClientID != "mosquitto_simplepub" {
		t.Errorf("report = %+v", report)
	}
}

func TestRunner_AcknowledgedQoS(t *testing.T) {
	for _, qos := range []byte{1, 2} {
		t.Run(fmt.Sprintf("qos%d", qos), func(t *testing.T) {
			b := brokertest.Start(t)
			r := newTestRunner(b.Addr(), &trackingOpener{addr: b.Addr()})

			report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5"), QoS: qos})
			if report.Status != StatusSuccess {
				t.Fatalf("Run() status = %v, err = %v", report.Status, report.Err)
			}
			if report.Pending != 0 {
				t.Errorf("report Pending = %d, want 0", report.Pending)
			}
			if msgs := b.Messages(); len(msgs) != 1 || msgs[0].QoS != qos {
				t.Errorf("broker messages = %+v, want one at qos %d", msgs, qos)
			}
		})
	}
}

func TestRunner_UnreachableBroker(t *testing.T) {
	addr := freeAddr(t)
	opener := &trackingOpener{addr: addr}
	r := newTestRunner(addr, opener)

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure {
		t.Fatalf("Run() status = %v, want failure", report.Status)
	}
	if !errors.Is(report.Err, ErrTransport) {
		t.Errorf("Run() err = %v, want ErrTransport", report.Err)
	}
	if report.Iterations != 0 || report.Stats.FramesQueued != 0 {
		t.Errorf("report = %+v, want no loop and nothing queued", report)
	}
	if opener.calls.Load() != 1 {
		t.Errorf("open attempts = %d, want 1 (no retry)", opener.calls.Load())
	}
}

func TestRunner_MissingOpener(t *testing.T) {
	r := &Runner{}
	report := r.Run(context.Background(), PublishRequest{Topic: "a", Payload: []byte("b")})
	if report.Status != StatusFailure || !errors.Is(report.Err, ErrTransport) {
		t.Errorf("Run() = %v / %v, want failure / ErrTransport", report.Status, report.Err)
	}
}

func TestRunner_InitFailureClosesTransport(t *testing.T) {
	b := brokertest.Start(t)
	opener := &trackingOpener{addr: b.Addr()}
	r := newTestRunner(b.Addr(), opener)
	r.SendCapacity = 0

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, ErrInit) {
		t.Fatalf("Run() = %v / %v, want failure / ErrInit", report.Status, report.Err)
	}
	if opener.last().IsOpen() {
		t.Error("transport still open after an init failure")
	}
}

func TestRunner_LoopStartFailure(t *testing.T) {
	b := brokertest.Start(t)
	var conn *interceptTransport
	r := newTestRunner(b.Addr(), &trackingOpener{})
	r.Open = interceptOpener(b.Addr(), nil, &conn)
	r.SyncPeriod = -time.Millisecond

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, ErrLoopStart) {
		t.Fatalf("Run() = %v / %v, want failure / ErrLoopStart", report.Status, report.Err)
	}
	if conn == nil {
		t.Fatal("transport never opened")
	}
	if got := conn.closes.Load(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
	if conn.IsOpen() {
		t.Error("transport still open after a loop start failure")
	}
	if report.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", report.Iterations)
	}
	if msgs := b.WaitForMessages(1, 100*time.Millisecond); len(msgs) != 0 {
		t.Errorf("broker received %d publishes, want 0", len(msgs))
	}
}

func TestRunner_FailedDisconnectFailsRun(t *testing.T) {
	b := brokertest.Start(t)
	var conn *interceptTransport
	r := newTestRunner(b.Addr(), &trackingOpener{})
	// 0xE0 is the DISCONNECT fixed header.
	r.Open = interceptOpener(b.Addr(), func(p []byte) bool { return len(p) > 0 && p[0] == 0xE0 }, &conn)

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, ErrProtocol) {
		t.Fatalf("Run() = %v / %v, want failure / ErrProtocol", report.Status, report.Err)
	}
	if report.ErrorKind != mqtt.KindTransport {
		t.Errorf("ErrorKind = %v, want %v", report.ErrorKind, mqtt.KindTransport)
	}
	if msgs := b.WaitForMessages(1, time.Second); len(msgs) != 1 {
		t.Errorf("broker received %d publishes, want 1", len(msgs))
	}
	if got := conn.closes.Load(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
}

func TestRunner_ConnectionRefused(t *testing.T) {
	b := brokertest.Start(t, brokertest.WithReturnCode(5))
	r := newTestRunner(b.Addr(), &trackingOpener{addr: b.Addr()})
	r.PublishWait = 5 * time.Second

	start := time.Now()
	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, ErrProtocol) {
		t.Fatalf("Run() = %v / %v, want failure / ErrProtocol", report.Status, report.Err)
	}
	if !errors.Is(report.Err, mqtt.ErrConnectionRefused) {
		t.Errorf("Run() err = %v, want wrapped ErrConnectionRefused", report.Err)
	}
	if report.ErrorKind != mqtt.KindConnectionRefused {
		t.Errorf("report ErrorKind = %v, want %v", report.ErrorKind, mqtt.KindConnectionRefused)
	}
	// A stopped loop ends the wait early.
	if elapsed := time.Since(start); elapsed >= r.PublishWait {
		t.Errorf("Run() took %v, want it to end before the %v wait", elapsed, r.PublishWait)
	}
}

func TestRunner_NoConnack(t *testing.T) {
	b := brokertest.Start(t, brokertest.WithSilence())
	r := newTestRunner(b.Addr(), &trackingOpener{addr: b.Addr()})

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, ErrProtocol) {
		t.Fatalf("Run() = %v / %v, want failure / ErrProtocol", report.Status, report.Err)
	}
	if !strings.Contains(report.Err.Error(), "CONNACK") {
		t.Errorf("Run() err = %v, want a missing CONNACK message", report.Err)
	}
}

func TestRunner_InvalidRequestPublishesNothing(t *testing.T) {
	b := brokertest.Start(t)
	opener := &trackingOpener{addr: b.Addr()}
	r := newTestRunner(b.Addr(), opener)

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/+", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, mqtt.ErrInvalidTopic) {
		t.Fatalf("Run() = %v / %v, want failure / ErrInvalidTopic", report.Status, report.Err)
	}
	if got := len(b.Messages()); got != 0 {
		t.Errorf("broker messages = %d, want 0", got)
	}
	if opener.last().IsOpen() {
		t.Error("transport still open after a publish failure")
	}
}

func TestRunner_CancelledDuringWait(t *testing.T) {
	b := brokertest.Start(t)
	r := newTestRunner(b.Addr(), &trackingOpener{addr: b.Addr()})
	r.PublishWait = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	report := r.Run(ctx, PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusFailure || !errors.Is(report.Err, context.Canceled) {
		t.Fatalf("Run() = %v / %v, want failure / context.Canceled", report.Status, report.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v after cancel", elapsed)
	}
}

func TestRunner_RecordsReport(t *testing.T) {
	b := brokertest.Start(t)
	r := newTestRunner(b.Addr(), &trackingOpener{addr: b.Addr()})

	var got []Report
	r.Recorders = []Recorder{
		recorderFunc(func(context.Context, Report) error {
			return errors.New("recorder down")
		}),
		recorderFunc(func(_ context.Context, rep Report) error {
			got = append(got, rep)
			return nil
		}),
	}

	report := r.Run(context.Background(), PublishRequest{Topic: "sensors/temp", Payload: []byte("23.5")})

	if report.Status != StatusSuccess {
		t.Fatalf("Run() status = %v, err = %v; a failing recorder must not fail the run", report.Status, report.Err)
	}
	if len(got) != 1 {
		t.Fatalf("recorded reports = %d, want 1", len(got))
	}
	if got[0].RunID != report.RunID || got[0].Status != StatusSuccess {
		t.Errorf("recorded %+v, want the returned report", got[0])
	}
}

func TestReport_ErrorString(t *testing.T) {
	if got := (Report{}).ErrorString(); got != "" {
		t.Errorf("ErrorString() = %q, want empty", got)
	}
	if got := (Report{Err: ErrInit}).ErrorString(); got != ErrInit.Error() {
		t.Errorf("ErrorString() = %q, want %q", got, ErrInit.Error())
	}
}
