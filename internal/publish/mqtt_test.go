package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

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
	Topic    string
	QoS      byte
	Retained bool
	Payload  string
}

// pendingToken completes when release is closed.
type pendingToken struct{ release chan struct{} }

func (t pendingToken) Wait() bool {
	<-t.release
	return true
}

func (t pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.release:
		return true
	case <-time.After(d):
		return false
	}
}
func (t pendingToken) Done() <-chan struct{} { return t.release }
func (t pendingToken) Error() error          { return nil }

type fakeClient struct {
	msgs         []message
	err          error
	offline      bool
	pending      chan struct{}
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, message{topic, qos, retained, string(payload.([]byte))})
	if c.pending != nil {
		return pendingToken{release: c.pending}
	}
	return doneToken{err: c.err}
}

func (c *fakeClient) IsConnectionOpen() bool { return !c.offline }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublisherTopics(t *testing.T) {
	c := &fakeClient{}
	p := New(c, Config{TopicPrefix: "car", QoS: 1})

	p.HandleFix(nmea.Fix{Latitude: 48.1173, Longitude: 11.5167, Valid: true})
	p.HandleSatellites([]nmea.Satellite{{ID: 4, Constellation: nmea.ConstellationGPS, CN0: 41}})
	p.HandleSentence(0, "$GPGGA,...") // raw disabled

	if len(c.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(c.msgs))
	}
	if c.msgs[0].Topic != "car/fix" || !c.msgs[0].Retained || c.msgs[0].QoS != 1 {
		t.Fatalf("fix message = %+v", c.msgs[0])
	}
	var fix nmea.Fix
	if err := json.Unmarshal([]byte(c.msgs[0].Payload), &fix); err != nil {
		t.Fatalf("fix payload: %v", err)
	}
	if fix.Latitude != 48.1173 || !fix.Valid {
		t.Fatalf("decoded fix = %+v", fix)
	}

	var sats []map[string]any
	if err := json.Unmarshal([]byte(c.msgs[1].Payload), &sats); err != nil {
		t.Fatalf("satellite payload: %v", err)
	}
	if c.msgs[1].Topic != "car/satellites" || sats[0]["constellation"] != "GPS" {
		t.Fatalf("satellite message = %+v", c.msgs[1])
	}
}

func TestPublisherRawNMEA(t *testing.T) {
	c := &fakeClient{}
	p := New(c, Config{RawNMEA: true})
	p.HandleSentence(1, "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48")

	want := []message{{Topic: "gnssd/nmea", Payload: "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48"}}
	if diff := cmp.Diff(want, c.msgs); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
}

func TestPublisherSurvivesErrors(t *testing.T) {
	c := &fakeClient{err: errors.New("not connected")}
	p := New(c, Config{})
	p.HandleFix(nmea.Fix{})
	p.Close()
	if !c.disconnected {
		t.Fatal("Close did not disconnect")
	}
}

func TestPublisherDropsWhileOffline(t *testing.T) {
	c := &fakeClient{offline: true}
	p := New(c, Config{RawNMEA: true})
	for i := 0; i < 50; i++ {
		p.HandleSentence(int64(i), "$GPGGA,1*00")
	}
	p.HandleFix(nmea.Fix{Valid: true})
	if len(c.msgs) != 0 {
		t.Fatalf("published %d messages while offline", len(c.msgs))
	}

	c.offline = false
	p.HandleFix(nmea.Fix{Valid: true})
	if len(c.msgs) != 1 || c.msgs[0].Topic != "gnssd/fix" {
		t.Fatalf("messages after reconnect = %+v", c.msgs)
	}
}

func TestPublisherDoesNotWaitForDelivery(t *testing.T) {
	c := &fakeClient{pending: make(chan struct{})}
	defer close(c.pending)
	p := New(c, Config{RawNMEA: true})

	start := time.Now()
	for i := 0; i < 20; i++ {
		p.HandleSentence(int64(i), "$GPGGA,1*00")
	}
	if d := time.Since(start); d > publishTimeout/2 {
		t.Fatalf("20 publishes took %v", d)
	}
	if len(c.msgs) != 20 {
		t.Fatalf("published %d messages, want 20", len(c.msgs))
	}
}
