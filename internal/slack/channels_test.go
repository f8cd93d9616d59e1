package slack

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/slack-go/slack"
)

type fakeLister struct {
	mu    sync.Mutex
	calls int
	pages map[string][][]slack.Channel // type -> pages
	err   error
}

func (f *fakeLister) GetConversationsContext(_ context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	pages := f.pages[params.Types[0]]
	idx := 0
	if params.Cursor != "" {
		idx = int(params.Cursor[0] - '0')
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = string(rune('0' + idx + 1))
	}
	return pages[idx], next, nil
}

func channel(id, name string) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	return c
}

func TestIsChannelID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"C01234567890", true},
		{"C0ABC123DEF", true},
		{"C012345678901234", false},
		{"C1234567", false},
		{"D01234567890", false},
		{"C01234abcdef", false},
		{"#supervisors", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := isChannelID(tt.input); got != tt.want {
				t.Errorf("isChannelID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestChannelResolver_ChannelIDSkipsAPI(t *testing.T) {
	lister := &fakeLister{}
	resolver := NewChannelResolver(lister, nil)

	got, err := resolver.ResolveChannel(context.Background(), "C01234567890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "C01234567890" || lister.calls != 0 {
		t.Errorf("got %q with %d calls", got, lister.calls)
	}
}

func TestChannelResolver_EmptyInput(t *testing.T) {
	resolver := NewChannelResolver(&fakeLister{}, nil)
	if _, err := resolver.ResolveChannel(context.Background(), ""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestChannelResolver_FollowsPaginationAndCaches(t *testing.T) {
	lister := &fakeLister{pages: map[string][][]slack.Channel{
		"public_channel": {
			{channel("C0000000001", "general")},
			{channel("C0000000002", "supervisors")},
		},
	}}
	resolver := NewChannelResolver(lister, nil)

	for i := 0; i < 3; i++ {
		got, err := resolver.ResolveChannel(context.Background(), "#supervisors")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "C0000000002" {
			t.Errorf("got %q, want C0000000002", got)
		}
	}
	if lister.calls != 2 {
		t.Errorf("expected 2 API calls (two pages, then cache), got %d", lister.calls)
	}

	resolver.ClearCache()
	if _, err := resolver.ResolveChannel(context.Background(), "supervisors"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lister.calls != 4 {
		t.Errorf("expected cache to be cleared, got %d calls", lister.calls)
	}
}

func TestChannelResolver_PrivateChannel(t *testing.T) {
	lister := &fakeLister{pages: map[string][][]slack.Channel{
		"private_channel": {{channel("C0000000009", "duty-officers")}},
	}}
	resolver := NewChannelResolver(lister, nil)

	got, err := resolver.ResolveChannel(context.Background(), "duty-officers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "C0000000009" {
		t.Errorf("got %q", got)
	}
}

func TestChannelResolver_NotFoundAndAPIError(t *testing.T) {
	resolver := NewChannelResolver(&fakeLister{pages: map[string][][]slack.Channel{}}, nil)
	if _, err := resolver.ResolveChannel(context.Background(), "nowhere"); err == nil {
		t.Error("expected not found error")
	}

	resolver = NewChannelResolver(&fakeLister{err: errors.New("rate limited")}, nil)
	if _, err := resolver.ResolveChannel(context.Background(), "anything"); err == nil {
		t.Error("expected API error")
	}
}
