package transport_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/soundloop/collab/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// newSocketPair dials a real websocket against an httptest server and
// returns the server-side conn, which is what transport.Connection wraps
// in production.
func newSocketPair(t *testing.T) *websocket.Conn {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientConn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.CloseNow() })

	select {
	case serverConn := <-connCh:
		return serverConn
	case <-ctx.Done():
		t.Fatal("timed out waiting for server-side websocket")
		return nil
	}
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	wsConn := newSocketPair(t)

	var wg sync.WaitGroup
	conn := transport.NewConnection(
		context.Background(),
		&wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: time.Minute},
		func(context.Context, string, []byte) {},
		nil,
		newTestLogger(),
	)
	conn.Run()
	conn.Close(nil)

	// A broadcaster can still hold the session between Close and the
	// disconnect cleanup that removes it from rooms; its sends must be
	// dropped, never panic.
	for i := 0; i < 300; i++ {
		conn.Send([]byte("late frame"))
	}

	<-conn.Done()
	wg.Wait()
}

func TestConcurrentSendDuringClose(t *testing.T) {
	wsConn := newSocketPair(t)

	var wg sync.WaitGroup
	conn := transport.NewConnection(
		context.Background(),
		&wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: time.Minute},
		func(context.Context, string, []byte) {},
		nil,
		newTestLogger(),
	)
	conn.Run()

	var senders sync.WaitGroup
	for i := 0; i < 8; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for j := 0; j < 100; j++ {
				conn.Send([]byte("frame"))
			}
		}()
	}
	conn.Close(errors.New("client went away"))
	senders.Wait()

	<-conn.Done()
	wg.Wait()
}

func TestCloseBeforeRunBalancesWaitGroup(t *testing.T) {
	wsConn := newSocketPair(t)

	var wg sync.WaitGroup
	conn := transport.NewConnection(
		context.Background(),
		&wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: time.Minute},
		nil,
		nil,
		newTestLogger(),
	)

	// Shutdown can tear a connection down after construction but before
	// its pumps start; the WaitGroup must still balance.
	conn.Close(errors.New("shutdown before run"))
	<-conn.Done()
	wg.Wait()
}

func TestCloseInvokesOnCloseOnce(t *testing.T) {
	wsConn := newSocketPair(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	calls := 0
	conn := transport.NewConnection(
		context.Background(),
		&wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: time.Minute},
		func(context.Context, string, []byte) {},
		func(string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
		newTestLogger(),
	)
	conn.Run()

	conn.Close(nil)
	conn.Close(nil)
	<-conn.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected onClose to fire exactly once, fired %d times", calls)
	}
}
