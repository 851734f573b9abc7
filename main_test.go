package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/client"
	"github.com/nexus-im/ghost/internal/auth"
	"github.com/nexus-im/ghost/internal/testutil"
)

// server is nil in -short mode.
var server *testutil.Server

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := testutil.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start server failed: %v\n", err)
		cancel()
		os.Exit(1)
	}
	server = s

	code := m.Run()

	_ = s.Stop()
	cancel()
	os.Exit(code)
}

func requireServer(t *testing.T) {
	t.Helper()
	if server == nil {
		t.Skip("end-to-end test skipped in -short mode")
	}
}

func sessionFor(t *testing.T, userID string) *client.Session {
	t.Helper()
	tok, err := auth.NewVerifier(testutil.Secret, "").Issue(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return client.NewSession(client.NewAPIClient(server.URL, tok), userID, zerolog.Nop())
}

func TestHealth(t *testing.T) {
	requireServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestConversationEndToEnd(t *testing.T) {
	requireServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	suffix := fmt.Sprint(time.Now().UnixNano())
	alice := sessionFor(t, "alice-"+suffix)
	bob := sessionFor(t, "bob-"+suffix)

	aliceTL, err := alice.OpenWith(ctx, bob.UserID())
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	bobTL, err := bob.Open(ctx, aliceTL.ConversationID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	connected := make(chan struct{})
	rt := client.NewRealtime(server.URL, bob.API().Token(), client.RealtimeConfig{}, bob.HandleEvent)
	rt.OnConnect(func(bool) { close(connected) })
	go rt.Run(ctx)
	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("realtime did not connect")
	}

	sent, err := alice.Send(ctx, aliceTL.ConversationID(), "hello from e2e")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for bobTL.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	msgs := bobTL.Messages()
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("bob timeline = %+v", msgs)
	}

	if _, err := alice.Delete(ctx, sent.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := alice.Delete(ctx, sent.ID); err == nil {
		t.Error("second delete should fail")
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"mongodb://user:pw@db:27017/ghost": "mongodb://db:27017/ghost",
		"mongodb://db:27017":               "mongodb://db:27017",
		"not a url":                        "not a url",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
