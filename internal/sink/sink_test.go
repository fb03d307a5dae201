package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrianmo/go-nmea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
)

var t0 = time.Unix(2000, 0)

func estimate(seq uint64, at time.Duration) fusion.Estimate {
	return fusion.Estimate{
		T:          t0.Add(at),
		Seq:        seq,
		Q:          orientation.Identity(),
		Bias:       orientation.Vec3{X: 0.001, Y: -0.002, Z: 0.003},
		Pose:       orientation.Pose{Roll: 5.3, Pitch: -2.04, Yaw: -30},
		Heading:    330,
		Variant:    orientation.VariantAHRS,
		Correction: orientation.CorrectionApplied,
		Dt:         0.005,
		Sample: imu.Sample{
			T:     t0.Add(at),
			Gyro:  orientation.Vec3{X: 0.1, Y: 0.2, Z: 0.3},
			Accel: orientation.Vec3{Z: 1},
			Mag:   orientation.Vec3{X: 20, Z: -35},
		},
	}
}

type fakeSink struct {
	n   int
	err error
}

func (f *fakeSink) Publish(fusion.Estimate) error { f.n++; return f.err }
func (f *fakeSink) Close() error                  { return f.err }

func TestMultiTriesEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &fakeSink{}, &fakeSink{err: boom}, &fakeSink{}
	m := Multi{a, b, c}

	if err := m.Publish(estimate(1, 0)); !errors.Is(err, boom) {
		t.Fatalf("Publish err = %v, want boom", err)
	}
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Errorf("publish counts = %d %d %d", a.n, b.n, c.n)
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close err = %v", err)
	}
	if err := (Multi{a, c}).Publish(estimate(2, 0)); err != nil {
		t.Errorf("clean Publish err = %v", err)
	}
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.msgs = append(f.msgs, message{topic, retained, payload.([]byte)})
	return doneToken{f.err}
}

func TestMQTTPublish(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTT(pub, "inertial/orientation", "inertial/imu")

	if err := m.Publish(estimate(7, 0)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.msgs))
	}

	var got fusion.Estimate
	if err := json.Unmarshal(pub.msgs[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if pub.msgs[0].topic != "inertial/orientation" || !pub.msgs[0].retained || got.Seq != 7 || got.Variant != orientation.VariantAHRS {
		t.Errorf("orientation message = %s %v %+v", pub.msgs[0].topic, pub.msgs[0].retained, got)
	}

	var smp imu.Sample
	if err := json.Unmarshal(pub.msgs[1].payload, &smp); err != nil {
		t.Fatal(err)
	}
	if pub.msgs[1].topic != "inertial/imu" || smp.Mag.Z != -35 {
		t.Errorf("imu message = %s %+v", pub.msgs[1].topic, smp)
	}

	pub.err = errors.New("not connected")
	if err := m.Publish(estimate(8, 0)); err == nil || !strings.Contains(err.Error(), "inertial/orientation") {
		t.Errorf("Publish err = %v", err)
	}
}

func TestNMEASentences(t *testing.T) {
	var buf bytes.Buffer
	n := NewNMEA(&buf, "hc", 100*time.Millisecond)

	for i, at := range []time.Duration{0, 50 * time.Millisecond, 100 * time.Millisecond} {
		if err := n.Publish(estimate(uint64(i), at)); err != nil {
			t.Fatal(err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\r\n")
	if len(lines) != 4 {
		t.Fatalf("got %d sentences, want 4 (second estimate throttled):\n%s", len(lines), buf.String())
	}

	s, err := nmea.Parse(lines[0])
	if err != nil {
		t.Fatalf("parse %q: %v", lines[0], err)
	}
	hdt, ok := s.(nmea.HDT)
	if !ok {
		t.Fatalf("first sentence is %T, want HDT", s)
	}
	if hdt.Talker != "HC" || hdt.Heading != 330 || !hdt.True {
		t.Errorf("HDT = %+v", hdt)
	}

	s, err = nmea.Parse(lines[1])
	if err != nil {
		t.Fatalf("parse %q: %v", lines[1], err)
	}
	xdr, ok := s.(nmea.XDR)
	if !ok {
		t.Fatalf("second sentence is %T, want XDR", s)
	}
	if len(xdr.Measurements) != 2 ||
		xdr.Measurements[0].TransducerName != "PITCH" || xdr.Measurements[0].Value != -2.0 ||
		xdr.Measurements[1].TransducerName != "ROLL" || xdr.Measurements[1].Value != 5.3 {
		t.Errorf("XDR = %+v", xdr.Measurements)
	}
}

func TestNMEAHeadingWraps(t *testing.T) {
	var buf bytes.Buffer
	n := NewNMEA(&buf, "HC", 0)
	e := estimate(1, 0)
	e.Heading = 359.97
	if err := n.Publish(e); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "$HCHDT,0.0,T*") {
		t.Errorf("got %q", buf.String())
	}
}

func TestSentenceChecksum(t *testing.T) {
	// Reference sentence from a gyrocompass.
	if got := Sentence("HEHDT,274.07,T"); got != "$HEHDT,274.07,T*19\r\n" {
		t.Errorf("Sentence = %q", got)
	}
}

func TestDatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ahrs.db")
	d, err := OpenDatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	d.Batch = 3

	for i := 1; i <= 5; i++ {
		if err := d.Publish(estimate(uint64(i), time.Duration(i)*5*time.Millisecond)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var (
		count   int
		maxSeq  int64
		variant string
		heading float64
	)
	row := db.QueryRow(`SELECT COUNT(*), MAX(seq) FROM estimates`)
	if err := row.Scan(&count, &maxSeq); err != nil {
		t.Fatal(err)
	}
	if count != 5 || maxSeq != 5 {
		t.Errorf("count = %d, max seq = %d", count, maxSeq)
	}
	row = db.QueryRow(`SELECT variant, heading FROM estimates WHERE seq = 2`)
	if err := row.Scan(&variant, &heading); err != nil {
		t.Fatal(err)
	}
	if variant != "ahrs" || heading != 330 {
		t.Errorf("row 2 = %s %v", variant, heading)
	}
}

func TestConsoleThrottles(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, time.Second)
	for i := 0; i < 10; i++ {
		if err := c.Publish(estimate(uint64(i), time.Duration(i)*200*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "HDG= 330.0") || !strings.HasSuffix(lines[0], "ahrs") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestRecorderFeedsReplay(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Publish(estimate(uint64(i), time.Duration(i)*10*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	src := sensors.NewReplaySource(&buf, false)
	var n int
	for {
		smp, err := src.Next(context.Background())
		if errors.Is(err, sensors.ErrEndOfReplay) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if smp.Gyro.Z != 0.3 || smp.Mag.X != 20 {
			t.Errorf("replayed sample %+v", smp)
		}
		n++
	}
	if n != 3 {
		t.Errorf("replayed %d samples, want 3", n)
	}
}

func TestHubStreamsToClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.Clients() == 1 })

	if err := hub.Publish(estimate(42, 0)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got fusion.Estimate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Seq != 42 || got.Heading != 330 {
		t.Errorf("got %+v", got)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 1 })

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage err = %v, want normal closure", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
