package loadboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/telemetry"
	"github.com/scrollDynasty/softforlogic-sub000/services/scanner"

	"github.com/stretchr/testify/require"
)

// fakeBoard is a minimal stand-in for the real board: cookie session,
// csrf-protected form login, paginated json search.
type fakeBoard struct {
	mu         sync.Mutex
	sessions   map[string]bool
	nextId     int
	totalPages int
	rowsPerPg  int
	failNext   int
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		sessions:   map[string]bool{},
		totalPages: 3,
		rowsPerPg:  2,
	}
}

func (b *fakeBoard) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><form method="post"><input name="_csrf" value="tok-123"></form></html>`)
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		ok := r.FormValue("_csrf") == "tok-123" &&
			r.FormValue("username") == "dispatcher" &&
			r.FormValue("password") == "hunter2"
		if !ok {
			// the real board re-renders the login form on bad credentials
			fmt.Fprint(w, `<html><form method="post"><input name="_csrf" value="tok-123"></form></html>`)
			return
		}

		b.mu.Lock()
		b.nextId++
		session := fmt.Sprintf("sess-%d", b.nextId)
		b.sessions[session] = true
		b.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: "BOARDSESSION", Value: session, Path: "/"})
		fmt.Fprint(w, `<html><h1>dashboard</h1></html>`)
	})

	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("BOARDSESSION"); err == nil {
			b.mu.Lock()
			delete(b.sessions, cookie.Value)
			b.mu.Unlock()
		}
	})

	mux.HandleFunc("GET /api/loads/search", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("BOARDSESSION")
		b.mu.Lock()
		authed := err == nil && b.sessions[cookie.Value]
		shouldFail := b.failNext > 0
		if shouldFail {
			b.failNext--
		}
		total := b.totalPages
		rows := b.rowsPerPg
		b.mu.Unlock()

		if !authed {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if shouldFail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var page int
		fmt.Sscan(r.URL.Query().Get("page"), &page)
		body := searchPage{Page: page, TotalPages: total}
		for i := 0; i < rows; i++ {
			body.Loads = append(body.Loads, searchRow{
				Id:          fmt.Sprintf("L-%d-%d", page, i),
				Origin:      "Dallas, TX",
				Destination: "Atlanta, GA",
				Miles:       780,
				Deadhead:    35,
				Rate:        1950,
				Equipment:   "V",
				PickupDate:  "2026-08-25",
			})
		}
		json.NewEncoder(w).Encode(body)
	})

	return mux
}

func startBoard(t *testing.T) (*fakeBoard, *Client) {
	t.Helper()

	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseUrl:  server.URL,
		Username: "dispatcher",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return board, client
}

func testStrategy() scanner.ScanStrategy {
	return scanner.ScanStrategy{
		Interval:         time.Second,
		Concurrency:      3,
		Timeout:          time.Second * 5,
		MaxRetries:       1,
		UseFastTransport: true,
	}
}

func TestFetchBatchRequiresSession(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	_, client := startBoard(t)

	_, err := client.FetchBatch(context.Background(), testStrategy())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()

	board := newFakeBoard()
	server := httptest.NewServer(board.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseUrl:  server.URL,
		Username: "dispatcher",
		Password: "wrong",
	})
	require.NoError(t, err)

	err = client.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)

	_, err = client.FetchBatch(context.Background(), testStrategy())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestFetchBatchPaginates(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	_, client := startBoard(t)

	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx))

	batch, err := client.FetchBatch(ctx, testStrategy())
	require.NoError(t, err)
	require.Len(t, batch, 6)

	// pages land in order even with parallel fetches
	require.Equal(t, "L-1-0", batch[0].ExternalID)
	require.Equal(t, "L-3-1", batch[5].ExternalID)
	require.Equal(t, "Dallas, TX", batch[0].Pickup)
	require.False(t, batch[0].CapturedAt.IsZero())
}

func TestFetchBatchSerialTransport(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	_, client := startBoard(t)

	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx))

	strategy := testStrategy()
	strategy.UseFastTransport = false
	strategy.Concurrency = 1

	batch, err := client.FetchBatch(ctx, strategy)
	require.NoError(t, err)
	require.Len(t, batch, 6)
}

func TestFetchBatchCapsPages(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()

	board := newFakeBoard()
	board.totalPages = 10
	server := httptest.NewServer(board.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseUrl:  server.URL,
		Username: "dispatcher",
		Password: "hunter2",
		MaxPages: 2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx))

	batch, err := client.FetchBatch(ctx, testStrategy())
	require.NoError(t, err)
	require.Len(t, batch, 4)
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	board, client := startBoard(t)

	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx))

	board.mu.Lock()
	board.failNext = 1
	board.mu.Unlock()

	start := time.Now()
	batch, err := client.FetchBatch(ctx, testStrategy())
	require.NoError(t, err)
	require.Len(t, batch, 6)

	// the retry waits before hitting the board again
	require.GreaterOrEqual(t, time.Since(start), searchRetryDelay)
}

func TestProbe(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	_, client := startBoard(t)

	ctx := context.Background()
	require.ErrorIs(t, client.Probe(ctx), ErrNotAuthenticated)

	require.NoError(t, client.Authenticate(ctx))
	require.NoError(t, client.Probe(ctx))
}

func TestTeardownAndRebuildCycle(t *testing.T) {
	defer telemetry.SetupForTesting("services/loadboard")()
	_, client := startBoard(t)

	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx))
	require.NoError(t, client.Teardown(ctx))

	_, err := client.FetchBatch(ctx, testStrategy())
	require.ErrorIs(t, err, ErrNotAuthenticated)

	// the full recovery sequence restores a working session
	require.NoError(t, client.Rebuild(ctx))
	require.NoError(t, client.Authenticate(ctx))
	batch, err := client.FetchBatch(ctx, testStrategy())
	require.NoError(t, err)
	require.Len(t, batch, 6)
}
