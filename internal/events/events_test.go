package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Publish(New(TypeSyncFinished, time.Now(), map[string]int{"updated": 1}))

	if len(a.Events()) != 1 || len(b.OfType(TypeSyncFinished)) != 1 {
		t.Fatalf("recorders = %d %d", len(a.Events()), len(b.Events()))
	}
	if a.Events()[0].ID == "" {
		t.Fatalf("event id missing")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(TypeDownloadUpdate); got != "mangashelf.events.download.update" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestNATSPublisherWithoutURL(t *testing.T) {
	p, err := NewNATSPublisher("", nil)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	p.Publish(New(TypeSyncProgress, time.Now(), nil))
	p.Close()
}

func TestServerBroadcastsToTCPClients(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hub := NewHub(nil)
	srv := NewServer("", hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var welcome map[string]any
	if err := json.Unmarshal([]byte(line), &welcome); err != nil || welcome["type"] != "welcome" {
		t.Fatalf("welcome = %q", line)
	}

	hub.Publish(New(TypeDownloadUpdate, time.Now(), map[string]string{"chapter_id": "nato_c1"}))

	line, err = r.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != TypeDownloadUpdate {
		t.Fatalf("type = %q", ev.Type)
	}
	if hub.Stats().TCPClients != 1 {
		t.Fatalf("stats = %+v", hub.Stats())
	}
}
