// Package transport carries readings, summaries, commands and
// acknowledgments over MQTT. The offline liveness beacon is registered as
// the broker-side last will at connection time, so it fires even when the
// process dies without disconnecting.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/logger"
	"github.com/jefry5/energy-monitor-si/internal/model"
)

const (
	ErrConnectFailed   = errors.ErrorCode("transport_connect_failed")
	ErrPublishFailed   = errors.ErrorCode("transport_publish_failed")
	ErrPublishTimeout  = errors.ErrorCode("transport_publish_timeout")
	ErrSubscribeFailed = errors.ErrorCode("transport_subscribe_failed")

	disconnectQuiesceMS = 250
)

// CommandHandler processes one inbound command payload. Building-wide
// commands arrive with building set; area is the topic's area segment
// otherwise. The payload is raw JSON; the handler owns decoding and must
// answer with exactly one acknowledgment.
type CommandHandler func(area string, building bool, payload []byte)

// Config for the MQTT client.
type Config struct {
	BrokerURL      string
	Username       string
	Password       string
	TopicPrefix    string
	BuildingID     string
	Mode           string
	QoS            byte
	PublishTimeout time.Duration
	ConnectTimeout time.Duration
}

// Client wraps the paho MQTT client with the engine's topic contract.
type Client struct {
	cfg     Config
	client  mqtt.Client
	handler CommandHandler
}

// New builds the client. The last will (retained offline status) is part of
// the connection options, not application logic.
func New(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg}

	will, err := json.Marshal(model.StatusPayload{
		Status:    "offline",
		Building:  cfg.BuildingID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(ErrConnectFailed, err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("energysim-%s-%s", cfg.BuildingID, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetBinaryWill(c.statusTopic(), will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = mqtt.NewClient(opts)

	return c, nil
}

// SetCommandHandler registers the inbound command handler. Must be called
// before Connect.
func (c *Client) SetCommandHandler(handler CommandHandler) {
	c.handler = handler
}

// Connect dials the broker. Subscriptions and the retained online status
// are (re)established by the OnConnect callback, so they survive broker
// restarts too.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return errors.New(ErrConnectFailed)
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(ErrConnectFailed, err)
	}

	return nil
}

// onConnect runs on every (re)connect on a paho goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	logger.Info().Str("broker", c.cfg.BrokerURL).Msg("connected to mqtt broker")

	c.publishStatus("online")

	topic := fmt.Sprintf("%s/+/command", c.cfg.TopicPrefix)
	token := client.Subscribe(topic, c.cfg.QoS, c.onCommand)
	if token.WaitTimeout(c.cfg.PublishTimeout) && token.Error() == nil {
		logger.Info().Str("topic", topic).Msg("subscribed to command topics")
	} else {
		logger.ErrorWithCode(errors.Wrap(ErrSubscribeFailed, token.Error())).
			Str("topic", topic).
			Msg("command subscription failed")
	}
}

// onCommand routes one inbound command message. It never panics the
// listener: undecodable topics are logged and dropped, payload errors are
// the handler's to acknowledge.
func (c *Client) onCommand(_ mqtt.Client, msg mqtt.Message) {
	if c.handler == nil {
		return
	}

	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 || parts[len(parts)-1] != "command" {
		logger.Warn().Str("topic", msg.Topic()).Msg("unexpected command topic format")
		return
	}

	area := parts[len(parts)-2]
	c.handler(area, area == "building", msg.Payload())
}

// PublishReading publishes one reading on the area's data topic.
func (c *Client) PublishReading(reading model.Reading) error {
	topic := fmt.Sprintf("%s/%s/consumption", c.cfg.TopicPrefix, reading.Area)

	return c.publish(topic, reading, false)
}

// PublishSummary publishes the once-per-cycle building rollup.
func (c *Client) PublishSummary(summary model.Summary) error {
	return c.publish(fmt.Sprintf("%s/summary", c.cfg.TopicPrefix), summary, false)
}

// PublishAck publishes one command acknowledgment.
func (c *Client) PublishAck(ack model.Ack) error {
	return c.publish(fmt.Sprintf("%s/system/ack", c.cfg.TopicPrefix), ack, false)
}

func (c *Client) publish(topic string, payload any, retained bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(ErrPublishFailed, err)
	}

	token := c.client.Publish(topic, c.cfg.QoS, retained, data)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return errors.WithData(ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(ErrPublishFailed, err)
	}

	return nil
}

func (c *Client) publishStatus(status string) {
	payload := model.StatusPayload{
		Status:    status,
		Building:  c.cfg.BuildingID,
		Mode:      c.cfg.Mode,
		Timestamp: time.Now().UTC(),
	}
	if err := c.publish(c.statusTopic(), payload, true); err != nil {
		logger.ErrorWithCode(err).Str("status", status).Msg("failed to publish status beacon")
	}
}

func (c *Client) statusTopic() string {
	return fmt.Sprintf("%s/system/status", c.cfg.TopicPrefix)
}

// Close publishes the retained offline status and disconnects cleanly. The
// last will only covers the ungraceful path.
func (c *Client) Close() {
	c.publishStatus("offline")
	c.client.Disconnect(disconnectQuiesceMS)
}
