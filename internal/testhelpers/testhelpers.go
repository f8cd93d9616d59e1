// Package testhelpers provides reusable testing utilities for resqnet.
//
// This package contains:
// - HTTP test helpers (creating requests, asserting responses)
// - An isolated in-memory database per test
// - Fake channel transports and a controllable clock
// - Assertion helpers
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/roster"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  req,
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	ctx.Request = httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	ctx.Request.Header.Set("Content-Type", "application/json")
	return ctx
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	body := ctx.Recorder.Body.String()
	if !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.NewDecoder(ctx.Recorder.Body).Decode(v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Database
// ========================================

// NewTestDB opens a private in-memory SQLite database with every table
// migrated. Each call gets its own database, closed when the test ends.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := database.Open(database.DriverSQLite, dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// ========================================
// Clock
// ========================================

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ========================================
// Fake Transports
// ========================================

// Sent is one message captured by a FakeTransport
type Sent struct {
	To      string
	Message notify.Message
}

// FakeTransport records every send and can be told to fail, hang or panic
type FakeTransport struct {
	channel database.Channel
	address func(c *roster.Contact) string

	mu    sync.Mutex
	sent  []Sent
	err   error
	delay time.Duration
	block bool
	panic bool
}

// NewFakeTransport creates a fake for ch that addresses contacts by their
// field for that channel
func NewFakeTransport(ch database.Channel) *FakeTransport {
	return &FakeTransport{channel: ch, address: defaultAddress(ch)}
}

func defaultAddress(ch database.Channel) func(c *roster.Contact) string {
	switch ch {
	case database.ChannelEmail:
		return func(c *roster.Contact) string { return c.Email }
	case database.ChannelSMS:
		return func(c *roster.Contact) string { return c.Phone }
	case database.ChannelPush:
		return func(c *roster.Contact) string { return c.PushToken }
	case database.ChannelSlack:
		return func(c *roster.Contact) string { return c.SlackUserID }
	default:
		return func(c *roster.Contact) string { return c.ID }
	}
}

// FailWith makes every send return err
func (f *FakeTransport) FailWith(err error) *FakeTransport {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	return f
}

// Delay makes every send sleep for d, honoring cancellation
func (f *FakeTransport) Delay(d time.Duration) *FakeTransport {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
	return f
}

// Hang makes every send block and ignore its context
func (f *FakeTransport) Hang() *FakeTransport {
	f.mu.Lock()
	f.block = true
	f.mu.Unlock()
	return f
}

// Panic makes every send panic
func (f *FakeTransport) Panic() *FakeTransport {
	f.mu.Lock()
	f.panic = true
	f.mu.Unlock()
	return f
}

func (f *FakeTransport) Channel() database.Channel { return f.channel }

func (f *FakeTransport) Address(c *roster.Contact) string { return f.address(c) }

func (f *FakeTransport) Send(ctx context.Context, to string, msg *notify.Message) error {
	f.mu.Lock()
	err, delay, block, doPanic := f.err, f.delay, f.block, f.panic
	f.mu.Unlock()

	if doPanic {
		panic("fake transport panic")
	}
	if block {
		select {}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, Sent{To: to, Message: *msg})
	f.mu.Unlock()
	return nil
}

// Sent returns a copy of the captured messages
func (f *FakeTransport) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// ========================================
// Timing Helpers
// ========================================

// MustCompleteWithin fails the test if the function takes longer than the timeout
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		t.Fatalf("function did not complete within %v", timeout)
	}
}
