// Copyright 2024-2026 Aiku AI

package keybase

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-keybase/pkg/connector"
)

// Client is a logged-in Keybase account.
type Client struct {
	username string
	log      zerolog.Logger

	next     func() (*connector.RemoteMessage, error)
	send     func(convID, text string) error
	shutdown func()

	messages chan *connector.RemoteMessage
	stop     chan struct{}
	stopOnce sync.Once
	sendLock sync.Mutex
}

var _ connector.RemoteClient = (*Client)(nil)

func newClient(
	username string,
	log zerolog.Logger,
	next func() (*connector.RemoteMessage, error),
	send func(convID, text string) error,
	shutdown func(),
) *Client {
	c := &Client{
		username: username,
		log:      log,
		next:     next,
		send:     send,
		shutdown: shutdown,
		messages: make(chan *connector.RemoteMessage, 64),
		stop:     make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *Client) Username() string {
	return c.username
}

func (c *Client) Messages() <-chan *connector.RemoteMessage {
	return c.messages
}

// pump reads the subscription until it fails or the client is
// disconnected, then closes the message channel.
func (c *Client) pump() {
	defer close(c.messages)
	for {
		msg, err := c.next()
		if err != nil {
			select {
			case <-c.stop:
			default:
				c.log.Err(err).Msg("Keybase subscription ended")
			}
			return
		}
		select {
		case c.messages <- msg:
		case <-c.stop:
			return
		}
	}
}

// Send posts text to a conversation. Sends are serialized because they
// share one keybase process.
func (c *Client) Send(ctx context.Context, convID networkid.PortalID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if err := c.send(connector.ParseConversationID(convID), text); err != nil {
		return fmt.Errorf("%w: %w", connector.ErrSend, err)
	}
	return nil
}

// Disconnect stops the subscription and the keybase process. It is safe to
// call more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.shutdown()
	})
}
