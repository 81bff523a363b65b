package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client is a connection to the bus. Each component that publishes or
// subscribes holds its own.
type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus, name string) (*Client, error) {
	return NewClientFromURL(bus.ClientURL(), name)
}

func NewClientFromURL(url, name string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("nichescout-"+name))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close flushes pending publishes and closes the connection.
func (c *Client) Close() {
	_ = c.conn.Flush()
	c.conn.Close()
}
