// Package slack delivers notifications to Slack, either as a direct message
// to the responder's Slack user or to a fallback supervisory channel.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/roster"
)

// poster is the part of the Slack API the transport needs
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Transport implements notify.Transport over the Slack Web API
type Transport struct {
	client   poster
	resolver *ChannelResolver
	fallback string
}

// NewTransport creates a Slack transport. fallback is a channel name or ID
// used for recipients without a Slack user id; empty disables it.
func NewTransport(client *slack.Client, resolver *ChannelResolver, fallback string) *Transport {
	return &Transport{client: client, resolver: resolver, fallback: fallback}
}

func (t *Transport) Channel() database.Channel { return database.ChannelSlack }

// Address prefers a direct message and falls back to the supervisory channel
func (t *Transport) Address(c *roster.Contact) string {
	if c.SlackUserID != "" {
		return c.SlackUserID
	}
	return t.fallback
}

// Send posts the message as a header plus a section block
func (t *Transport) Send(ctx context.Context, to string, msg *notify.Message) error {
	target := to
	if !strings.HasPrefix(to, "U") && !strings.HasPrefix(to, "W") && t.resolver != nil {
		id, err := t.resolver.ResolveChannel(ctx, to)
		if err != nil {
			return err
		}
		target = id
	}

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(msg.Title, 150), false, false))
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "```"+msg.Body+"```", false, false), nil, nil)

	_, _, err := t.client.PostMessageContext(ctx, target,
		slack.MsgOptionText(msg.Title, false),
		slack.MsgOptionBlocks(header, section),
	)
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", target, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
