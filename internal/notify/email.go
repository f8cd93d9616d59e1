package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/roster"
)

// EmailTransport sends notifications through an SMTP relay. Every send owns
// its connection, and the connection never outlives the send's context.
type EmailTransport struct {
	addr     string
	host     string
	from     string
	username string
	password string
	dialer   net.Dialer
}

// NewEmailTransport creates an SMTP transport. Username may be empty for
// relays that accept unauthenticated submission.
func NewEmailTransport(host string, port int, username, password, from string) *EmailTransport {
	return &EmailTransport{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		host:     host,
		from:     from,
		username: username,
		password: password,
	}
}

func (t *EmailTransport) Channel() database.Channel { return database.ChannelEmail }

func (t *EmailTransport) Address(c *roster.Contact) string { return c.Email }

// Send submits the message and returns once the relay accepted it or ctx
// is done, whichever comes first.
func (t *EmailTransport) Send(ctx context.Context, to string, msg *Message) error {
	if err := t.submit(ctx, to, t.render(to, msg)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
		}
		// The connection deadline is the context's, and may fire first
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("smtp send to %s: %w", to, context.DeadlineExceeded)
		}
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func (t *EmailTransport) submit(ctx context.Context, to string, body []byte) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	// Unblocks any pending read or write on cancellation
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return err
		}
	}
	if t.username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(t.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (t *EmailTransport) render(to string, msg *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(msg.Title)))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "X-Resqnet-Notification: %s\r\n", msg.NotificationID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
