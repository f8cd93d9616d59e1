package testhelpers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/resqnet/resqnet/internal/database"
)

// ========================================
// JSON Response Assertions
// ========================================

// Paths are dot separated object keys and array indexes, for example
// "pagination.total" or "data.0.status". The empty path is the whole body.
// None of these consume the body, so DecodeJSON can still follow.

// AssertJSONEqual compares the value at path with expected, ignoring
// formatting and key order
func (ctx *HTTPTestContext) AssertJSONEqual(path, expected string) *HTTPTestContext {
	ctx.T.Helper()
	actual, ok := ctx.jsonAt(path)
	if !ok {
		return ctx
	}
	var want interface{}
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		ctx.T.Fatalf("invalid expected JSON for %q: %v", path, err)
	}
	if a, w := mustMarshal(actual), mustMarshal(want); a != w {
		ctx.T.Errorf("JSON mismatch at %q\nexpected: %s\nactual:   %s", path, w, a)
	}
	return ctx
}

// AssertJSONContainsKey checks that path resolves to a value
func (ctx *HTTPTestContext) AssertJSONContainsKey(path string) *HTTPTestContext {
	ctx.T.Helper()
	ctx.jsonAt(path)
	return ctx
}

// AssertJSONKeyValue checks the value at path. Numbers compare by their
// JSON form, so 2 matches 2.0.
func (ctx *HTTPTestContext) AssertJSONKeyValue(path string, expected interface{}) *HTTPTestContext {
	ctx.T.Helper()
	actual, ok := ctx.jsonAt(path)
	if !ok {
		return ctx
	}
	if a, w := mustMarshal(actual), mustMarshal(expected); a != w {
		ctx.T.Errorf("JSON value at %q: expected %s, got %s", path, w, a)
	}
	return ctx
}

// AssertJSONArrayLength checks the length of the array at path
func (ctx *HTTPTestContext) AssertJSONArrayLength(path string, expected int) *HTTPTestContext {
	ctx.T.Helper()
	v, ok := ctx.jsonAt(path)
	if !ok {
		return ctx
	}
	arr, isArr := v.([]interface{})
	if !isArr {
		ctx.T.Errorf("JSON value at %q is %T, not an array", path, v)
		return ctx
	}
	if len(arr) != expected {
		ctx.T.Errorf("JSON array at %q: expected length %d, got %d", path, expected, len(arr))
	}
	return ctx
}

func (ctx *HTTPTestContext) jsonAt(path string) (interface{}, bool) {
	ctx.T.Helper()
	var v interface{}
	if err := json.Unmarshal(ctx.Recorder.Body.Bytes(), &v); err != nil {
		ctx.T.Fatalf("response is not JSON: %v. Body: %s", err, ctx.Recorder.Body.String())
	}
	got, err := lookupJSON(v, path)
	if err != nil {
		ctx.T.Errorf("%v. Body: %s", err, ctx.Recorder.Body.String())
		return nil, false
	}
	return got, true
}

func lookupJSON(v interface{}, path string) (interface{}, error) {
	if path == "" {
		return v, nil
	}
	for _, part := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("JSON has no key %q in path %q", part, path)
			}
			v = next
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("JSON index %q out of range in path %q", part, path)
			}
			v = node[i]
		default:
			return nil, fmt.Errorf("JSON path %q descends into a %T", path, v)
		}
	}
	return v, nil
}

func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unmarshalable %T>", v)
	}
	return string(b)
}

// ========================================
// Concurrency
// ========================================

// ConcurrentTestWithTimeout runs fn on n goroutines at once and fails the
// test if they do not all return within timeout
func ConcurrentTestWithTimeout(t *testing.T, timeout time.Duration, n int, fn func(workerID int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			fn(id)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("concurrent workers did not complete within %v", timeout)
	}
}

// ========================================
// Notification Helpers
// ========================================

// DeliveryOutcomes maps each channel of n to its recorded outcome
func DeliveryOutcomes(n *database.Notification) map[database.Channel]database.DeliveryOutcome {
	out := make(map[database.Channel]database.DeliveryOutcome, len(n.Deliveries))
	for _, d := range n.Deliveries {
		out[d.Channel] = d.Outcome
	}
	return out
}
