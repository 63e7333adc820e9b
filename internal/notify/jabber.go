package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-xmpp"
	"github.com/sirupsen/logrus"
)

// JabberConfig describes the XMPP account used to deliver notifications.
type JabberConfig struct {
	Server    string
	Username  string
	Password  string
	Recipient string // bare JID, or a MUC JID when Room is set
	Room      bool
	Nick      string
	NoTLS     bool
}

type chatSender interface {
	Send(chat xmpp.Chat) (int, error)
	Close() error
}

// JabberNotifier posts notifications as chat messages.
// The connection is opened on first use and dropped after a failed send.
type JabberNotifier struct {
	config JabberConfig

	mu     sync.Mutex
	client chatSender
	dial   func(JabberConfig) (chatSender, error)
}

func NewJabber(cfg JabberConfig) *JabberNotifier {
	if cfg.Nick == "" {
		cfg.Nick = "offline-worker"
	}
	return &JabberNotifier{
		config: cfg,
		dial:   dialJabber,
	}
}

func dialJabber(cfg JabberConfig) (chatSender, error) {
	logrus.Infof("Connecting to %s...", cfg.Server)

	var client *xmpp.Client
	var err error
	if cfg.NoTLS {
		client, err = xmpp.NewClientNoTLS(cfg.Server, cfg.Username, cfg.Password, false)
	} else {
		client, err = xmpp.NewClient(cfg.Server, cfg.Username, cfg.Password, false)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Room {
		logrus.Infof("Joining %s as %s", cfg.Recipient, cfg.Nick)
		if _, err := client.JoinMUCNoHistory(cfg.Recipient, cfg.Nick); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// connect dials the server, giving up when ctx is done. A connection that
// completes after that is closed.
func (j *JabberNotifier) connect(ctx context.Context) (chatSender, error) {
	type dialResult struct {
		client chatSender
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := j.dial(j.config)
		done <- dialResult{client: client, err: err}
	}()

	select {
	case result := <-done:
		return result.client, result.err
	case <-ctx.Done():
		go func() {
			if result := <-done; result.err == nil {
				_ = result.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (j *JabberNotifier) Show(ctx context.Context, n Notification) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if j.client == nil {
		client, err := j.connect(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", j.config.Server, err)
		}
		j.client = client
	}

	chatType := "chat"
	if j.config.Room {
		chatType = "groupchat"
	}

	_, err := j.client.Send(xmpp.Chat{
		Remote: j.config.Recipient,
		Type:   chatType,
		Text:   formatChat(n),
	})
	if err != nil {
		_ = j.client.Close()
		j.client = nil
		return fmt.Errorf("failed to send notification %s: %w", n.Tag, err)
	}
	return nil
}

func (j *JabberNotifier) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.client == nil {
		return nil
	}
	err := j.client.Close()
	j.client = nil
	return err
}

func formatChat(n Notification) string {
	lines := []string{n.Title}
	if n.Body != "" {
		lines = append(lines, n.Body)
	}
	if n.Icon != "" {
		lines = append(lines, "icon: "+n.Icon)
	}
	return strings.Join(lines, "\n")
}
