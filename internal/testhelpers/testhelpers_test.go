package testhelpers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/notify"
)

func TestHTTPTestContext_WithJSONBody(t *testing.T) {
	ctx := NewHTTPTestContext(t, http.MethodPost, "/test", nil)
	ctx.WithJSONBody(map[string]string{"key": "value"})

	if ctx.Request.Header.Get("Content-Type") != "application/json" {
		t.Error("Content-Type should be application/json")
	}

	ctx.Execute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	ctx.AssertStatus(http.StatusCreated).AssertBodyContains(`"ok"`)

	var body map[string]bool
	ctx.DecodeJSON(&body)
	if !body["ok"] {
		t.Errorf("expected ok=true, got %v", body)
	}
}

func TestNewTestDB_IsIsolated(t *testing.T) {
	a := NewTestDB(t)
	b := NewTestDB(t)

	NewSignalBuilder().WithID("only-in-a").Insert(t, a)

	var count int64
	b.Model(&database.Signal{}).Count(&count)
	if count != 0 {
		t.Errorf("expected empty second database, got %d signals", count)
	}
	a.Model(&database.Signal{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 signal, got %d", count)
	}
}

func TestSignalBuilder_InsertWithAssignee(t *testing.T) {
	db := NewTestDB(t)
	s := NewSignalBuilder().
		WithStatus(database.SignalStatusAcknowledged).
		AssignedTo("r1").
		Insert(t, db)

	var a database.Assignment
	if err := db.Where("signal_id = ? AND active = ?", s.ID, true).First(&a).Error; err != nil {
		t.Fatalf("expected active assignment: %v", err)
	}
	if a.ResponderID != "r1" {
		t.Errorf("expected responder r1, got %s", a.ResponderID)
	}
}

func TestClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(5 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("expected %v, got %v", start.Add(5*time.Minute), got)
	}
}

func TestFakeTransport(t *testing.T) {
	contact := NewResponderBuilder("r1").Contact()
	msg := &notify.Message{Title: "hello"}

	ok := NewFakeTransport(database.ChannelEmail)
	if ok.Address(&contact) != "r1@example.test" {
		t.Errorf("unexpected address %q", ok.Address(&contact))
	}
	if err := ok.Send(context.Background(), "r1@example.test", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ok.Sent()); n != 1 {
		t.Errorf("expected 1 sent message, got %d", n)
	}

	failing := NewFakeTransport(database.ChannelSMS).FailWith(errors.New("gateway down"))
	if err := failing.Send(context.Background(), "+1", msg); err == nil {
		t.Error("expected error")
	}
	if n := len(failing.Sent()); n != 0 {
		t.Errorf("failed sends are not recorded, got %d", n)
	}

	slow := NewFakeTransport(database.ChannelPush).Delay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	MustCompleteWithin(t, 500*time.Millisecond, func() {
		if err := slow.Send(ctx, "tok", msg); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestRoster(t *testing.T) {
	r := Roster(NewResponderBuilder("r1"), NewResponderBuilder("r2").WithName("Kamala"))
	c, err := r.Lookup(context.Background(), "r2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "Kamala" {
		t.Errorf("expected Kamala, got %s", c.Name())
	}
}

func TestConcurrentTest(t *testing.T) {
	results := make(chan int, 10)
	ConcurrentTestWithTimeout(t, time.Second, 10, func(id int) { results <- id })
	close(results)
	seen := map[int]bool{}
	for id := range results {
		seen[id] = true
	}
	if len(seen) != 10 {
		t.Errorf("expected 10 workers, got %d", len(seen))
	}
}

func TestJSONAssertions(t *testing.T) {
	ctx := NewHTTPTestContext(t, http.MethodGet, "/test", nil).
		Execute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[{"status":"pending","level":2}],"pagination":{"total":1}}`))
		}))

	ctx.AssertJSONKeyValue("data.0.status", "pending").
		AssertJSONKeyValue("data.0.level", 2).
		AssertJSONKeyValue("pagination.total", 1).
		AssertJSONContainsKey("pagination").
		AssertJSONArrayLength("data", 1).
		AssertJSONEqual("data.0", `{"level":2,"status":"pending"}`)

	var body map[string]interface{}
	ctx.DecodeJSON(&body)
	if _, ok := body["data"]; !ok {
		t.Error("assertions must not consume the body")
	}
}

func TestLookupJSON_Errors(t *testing.T) {
	doc := map[string]interface{}{"data": []interface{}{"a"}, "n": 1.0}
	for _, path := range []string{"missing", "data.1", "data.x", "n.deeper"} {
		if _, err := lookupJSON(doc, path); err == nil {
			t.Errorf("expected an error for path %q", path)
		}
	}
	if v, err := lookupJSON(doc, "data.0"); err != nil || v != "a" {
		t.Errorf("data.0 = %v, %v", v, err)
	}
}
