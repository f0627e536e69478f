package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startServer(t *testing.T) (*natsserver.EmbeddedServer, config.BusConfig) {
	t.Helper()
	cfg := config.BusConfig{
		Enabled:        true,
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	return srv, cfg
}

func TestConnectPublishSubscribe(t *testing.T) {
	_, cfg := startServer(t)
	client, err := Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	if !client.Healthy() {
		t.Fatalf("expected healthy client")
	}

	got := make(chan string, 1)
	sub, err := client.Conn().Subscribe("readaloud.test", func(msg *nats.Msg) {
		got <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := client.Conn().Publish("readaloud.test", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	_, cfg := startServer(t)
	client, err := Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("READALOUD_TEST", []string{"readaloud.test.>"}, time.Hour); err != nil {
			t.Fatalf("ensure stream (pass %d): %v", i, err)
		}
	}
	if err := client.Conn().Publish("readaloud.test.done", []byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := client.JetStream().StreamInfo("READALOUD_TEST")
		if err != nil {
			t.Fatalf("stream info: %v", err)
		}
		if info.State.Msgs == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 retained message, got %d", info.State.Msgs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatalf("expected error without servers")
	}
}
