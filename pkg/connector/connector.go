package connector

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultHost          = ""
	DefaultPort          = 4222
	DefaultPingInterval  = 10
	DefaultMaxPingsOut   = 3
	DefaultMaxReconnects = -1
	DefaultClientName    = "rulepost"
)

// Connector holds the process-wide message bus connection used by
// bus-publish actions. When no bus host is configured the connector
// stays disconnected and publishing becomes a no-op upstream.
type Connector struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func New(logger *zap.Logger) *Connector {

	c := &Connector{
		logger: logger.Named("Connector"),
	}

	c.initialize()

	return c
}

func (c *Connector) initialize() {

	err := c.connect()
	if err != nil {
		c.logger.Error(err.Error())
	}
}

func (c *Connector) connect() error {

	// default settings
	viper.SetDefault("bus.host", DefaultHost)
	viper.SetDefault("bus.port", DefaultPort)
	viper.SetDefault("bus.pingInterval", DefaultPingInterval)
	viper.SetDefault("bus.maxPingsOutstanding", DefaultMaxPingsOut)
	viper.SetDefault("bus.maxReconnects", DefaultMaxReconnects)

	// Read configs
	host := viper.GetString("bus.host")
	port := viper.GetInt("bus.port")
	pingInterval := viper.GetInt64("bus.pingInterval")
	maxPingsOutstanding := viper.GetInt("bus.maxPingsOutstanding")
	maxReconnects := viper.GetInt("bus.maxReconnects")

	// No bus configured for this process
	if len(host) == 0 {
		c.logger.Info("No message bus configured, bus-publish actions are disabled")
		return nil
	}

	address := fmt.Sprintf("nats://%s:%d", host, port)

	c.logger.Info("Connecting to message bus...",
		zap.String("address", address),
		zap.Int64("pingInterval", pingInterval),
		zap.Int("maxPingsOutstanding", maxPingsOutstanding),
		zap.Int("maxReconnects", maxReconnects),
	)

	conn, err := nats.Connect(address,
		nats.Name(DefaultClientName),
		nats.PingInterval(time.Duration(pingInterval)*time.Second),
		nats.MaxPingsOutstanding(maxPingsOutstanding),
		nats.MaxReconnects(maxReconnects),
	)
	if err != nil {
		return err
	}

	c.conn = conn

	return nil
}

func (c *Connector) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish sends one payload to the given topic and flushes before
// returning, so a dispatch failure is visible to the caller.
func (c *Connector) Publish(topic string, payload []byte) error {

	if c.conn == nil {
		return fmt.Errorf("message bus is not configured")
	}

	err := c.conn.Publish(topic, payload)
	if err != nil {
		return err
	}

	return c.conn.Flush()
}

func (c *Connector) Close() {

	if c.conn == nil {
		return
	}

	c.conn.Drain()
	c.conn = nil
}
