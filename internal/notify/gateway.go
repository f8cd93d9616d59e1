package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/roster"
)

// smsMaxLen keeps gateway SMS bodies to two concatenated segments
const smsMaxLen = 300

// GatewayRequest is the JSON body posted to an SMS or push gateway
type GatewayRequest struct {
	To             string                 `json:"to"`
	Title          string                 `json:"title,omitempty"`
	Body           string                 `json:"body"`
	Priority       string                 `json:"priority"`
	NotificationID string                 `json:"notification_id"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// GatewayResponse is the optional JSON reply from a gateway
type GatewayResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GatewayTransport posts notifications to an HTTP delivery gateway.
// The same shape serves the SMS and push gateways; only the channel and
// the contact field used as address differ.
type GatewayTransport struct {
	channel database.Channel
	client  *resty.Client
	address func(c *roster.Contact) string
	short   bool
}

// NewSMSGateway creates a transport that texts the responder's phone
func NewSMSGateway(url, token string) *GatewayTransport {
	return newGateway(database.ChannelSMS, url, token, func(c *roster.Contact) string { return c.Phone }, true)
}

// NewPushGateway creates a transport that pushes to the responder's device token
func NewPushGateway(url, token string) *GatewayTransport {
	return newGateway(database.ChannelPush, url, token, func(c *roster.Contact) string { return c.PushToken }, false)
}

func newGateway(ch database.Channel, url, token string, address func(*roster.Contact) string, short bool) *GatewayTransport {
	client := resty.New().
		SetBaseURL(url).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "resqnet-dispatcher").
		// Per-attempt bound; the dispatcher's context carries the overall timeout
		SetTimeout(30 * time.Second)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &GatewayTransport{channel: ch, client: client, address: address, short: short}
}

func (g *GatewayTransport) Channel() database.Channel { return g.channel }

func (g *GatewayTransport) Address(c *roster.Contact) string { return g.address(c) }

// Send posts the message and treats any non-2xx reply as a failure
func (g *GatewayTransport) Send(ctx context.Context, to string, msg *Message) error {
	req := GatewayRequest{
		To:             to,
		Title:          msg.Title,
		Body:           msg.Body,
		Priority:       string(msg.Priority),
		NotificationID: msg.NotificationID,
	}
	if g.short {
		req.Title = ""
		req.Body = msg.ShortText(smsMaxLen)
	} else {
		req.Data = map[string]interface{}{
			"signal_id": msg.SignalID,
			"type":      string(msg.Type),
		}
	}

	var reply GatewayResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&reply).
		SetError(&reply).
		Post("")
	if err != nil {
		return fmt.Errorf("%s gateway: %w", g.channel, err)
	}
	if resp.IsError() {
		if reply.Message != "" {
			return fmt.Errorf("%s gateway returned %d: %s", g.channel, resp.StatusCode(), reply.Message)
		}
		return fmt.Errorf("%s gateway returned %d", g.channel, resp.StatusCode())
	}
	return nil
}
