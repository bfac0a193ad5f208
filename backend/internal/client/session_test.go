package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"codeColab/backend/internal/room"
	"codeColab/backend/internal/ws"
)

func startRelay(t *testing.T) (url string, stop func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(nil, ws.HubOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", ws.NewManager(hub, nil).WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func dialSession(t *testing.T, url string) *Session {
	t.Helper()
	c, err := Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	s := NewSession(c)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionRoster(t *testing.T) {
	url, _ := startRelay(t)
	alice := dialSession(t, url)
	bob := dialSession(t, url)

	if err := alice.Join("r1", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "alice roster", func() bool { return len(alice.Roster()) == 1 })
	aliceID := alice.SelfID()
	if aliceID == "" || alice.Roster()[0] != (room.Member{ConnID: aliceID, Username: "alice"}) {
		t.Fatalf("alice roster: %+v", alice.Roster())
	}

	var changes atomic.Int32
	bob.OnRosterChange(func([]room.Member) { changes.Add(1) })
	if err := bob.Join("r1", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "both rosters", func() bool {
		return len(alice.Roster()) == 2 && len(bob.Roster()) == 2
	})

	alice.Close()
	waitFor(t, "bob roster drop", func() bool { return len(bob.Roster()) == 1 })
	if bob.Roster()[0].Username != "bob" {
		t.Fatalf("bob roster: %+v", bob.Roster())
	}
	if changes.Load() != 2 {
		t.Fatalf("expected 2 roster changes on bob, got %d", changes.Load())
	}
	if alice.Valid() {
		t.Fatal("closed session should be invalid")
	}
}

func TestSessionFailureReportedOnce(t *testing.T) {
	url, stop := startRelay(t)
	s := dialSession(t, url)

	var failures atomic.Int32
	s.OnFailure(func(error) { failures.Add(1) })
	if err := s.Join("r1", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "roster", func() bool { return len(s.Roster()) == 1 })

	// 服务端关闭，连接被断开
	stop()
	waitFor(t, "failure", func() bool { return failures.Load() == 1 })

	if s.Valid() || len(s.Roster()) != 0 {
		t.Fatal("session should be invalidated")
	}
	if err := s.Join("r1", "alice"); err != ErrClosed {
		t.Fatalf("join after failure: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if failures.Load() != 1 {
		t.Fatalf("OnFailure called %d times", failures.Load())
	}
}

func TestCloseDoesNotReportFailure(t *testing.T) {
	url, _ := startRelay(t)
	s := dialSession(t, url)
	var failures atomic.Int32
	s.OnFailure(func(error) { failures.Add(1) })
	s.Close()
	time.Sleep(50 * time.Millisecond)
	if failures.Load() != 0 {
		t.Fatal("explicit close must not report failure")
	}
	if err := s.c.Emit(ws.EventJoin, nil); err != ErrClosed {
		t.Fatalf("emit after close: %v", err)
	}
}
