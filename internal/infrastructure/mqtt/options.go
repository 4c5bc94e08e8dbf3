package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is used when the config leaves publish_timeout unset.
	defaultPublishTimeout = 5 * time.Second

	// subscribeTimeout bounds the wait for a SUBACK.
	subscribeTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// minReconnectDelay keeps an unreachable broker from turning the
	// reconnect loop into a busy spin.
	minReconnectDelay = 100 * time.Millisecond

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// subscribeFailure is the SUBACK return code for a rejected subscription.
	subscribeFailure = 0x80
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is enabled.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho options for one connection attempt.
//
// The library's own reconnect logic is switched off: the bridge runs its
// own loop and builds a fresh client per attempt. Callbacks are wired to
// the given session so that late callbacks from an old connection cannot
// reach the dispatcher of a new one.
func buildClientOptions(cfg config.MQTTConfig, s *session) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Deliver messages one at a time, in arrival order.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		s.post(event{kind: eventConnect})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.post(event{kind: eventDisconnect, err: err})
	})
	// Persistent sessions may deliver messages before the subscriptions of
	// this connection are in place; route those through the same path.
	opts.SetDefaultPublishHandler(s.messageHandler)

	return opts
}
