package natsbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/ports"
)

func startTestNATS(t *testing.T) string {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestPublisherPublishesPerKindSubject(t *testing.T) {
	url := startTestNATS(t)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe("janitor.events.>", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub, err := Connect(url, "janitor.events")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	event := ports.LifecycleEvent{
		EventID:     9,
		IssueID:     1,
		ExternalKey: "PROJ-1:S1481",
		Kind:        janitor.EventPRCreated,
		Status:      janitor.StatusPROpen,
		Message:     "opened",
	}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != "janitor.events.pr_created" {
			t.Fatalf("subject = %q", msg.Subject)
		}
		var got ports.LifecycleEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ExternalKey != "PROJ-1:S1481" || got.Status != janitor.StatusPROpen {
			t.Fatalf("payload = %#v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(" ", "x"); err == nil {
		t.Fatal("Connect(empty) error = nil")
	}
}
