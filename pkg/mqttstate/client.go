package mqttstate

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/ivanvanderbyl/epson-projector/pkg/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishFailed    = errors.New("mqtt publish failed")
	ErrSubscribeFailed  = errors.New("mqtt subscribe failed")
)

// Broker is the subset of an MQTT client the platform needs
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string) error
}

// Client wraps a paho client with fixed QoS and bounded waits
type Client struct {
	client pahomqtt.Client
	qos    byte
	topics Topics
}

// Connect dials the broker from cfg and announces the bridge as online. The
// broker publishes the offline status if the connection drops.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	topics := Topics{Prefix: cfg.TopicPrefix}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetWill(topics.Status(), payloadOffline, byte(cfg.QoS), true)

	c := &Client{qos: byte(cfg.QoS), topics: topics}
	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.Wrapf(ErrConnectionFailed, "timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}

	if err := c.Publish(topics.Status(), []byte(payloadOnline), true); err != nil {
		c.client.Disconnect(disconnectQuiesce)
		return nil, err
	}

	return c, nil
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Wrapf(ErrPublishFailed, "%s: timeout after %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrPublishFailed, "%s: %v", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, c.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return errors.Wrapf(ErrSubscribeFailed, "%s: timeout after %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrSubscribeFailed, "%s: %v", topic, err)
	}
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("unsubscribe %s: timeout after %v", topic, publishTimeout)
	}
	return errors.Wrapf(token.Error(), "unsubscribe %s", topic)
}

// Close publishes the offline status and disconnects
func (c *Client) Close() {
	if c.client.IsConnected() {
		_ = c.Publish(c.topics.Status(), []byte(payloadOffline), true)
	}
	c.client.Disconnect(disconnectQuiesce)
}
