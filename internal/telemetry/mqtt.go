// Package telemetry publishes session events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicClientAdmin  = "client/admin"
	TopicSessionState = "session/state"
	TopicSessionLogin = "session/login"
	TopicSessionError = "session/error"
	TopicSessionChat  = "session/chat"
	TopicRegion       = "session/region"
)

// ErrDisabled is returned when MQTT is switched off in the configuration.
var ErrDisabled = errors.New("MQTT is disabled")

// topics routes event types to topic suffixes. Events not listed are not
// published.
var topics = map[events.EventType]string{
	events.EventStateChanged:     TopicSessionState,
	events.EventDisconnected:     TopicSessionState,
	events.EventLoginSucceeded:   TopicSessionLogin,
	events.EventLoginFailed:      TopicSessionLogin,
	events.EventSessionError:     TopicSessionError,
	events.EventChat:             TopicSessionChat,
	events.EventRegionHandshake:  TopicRegion,
	events.EventMovementComplete: TopicRegion,
}

// TopicFor returns the full topic an event is published on.
func TopicFor(prefix string, t events.EventType) (string, bool) {
	suffix, ok := topics[t]
	if !ok {
		return "", false
	}
	if prefix == "" {
		return suffix, true
	}
	return prefix + "/" + suffix, true
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	log      zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		log:      util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"platform": sysInfo.Platform,
			"os":       sysInfo.OS,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("slproto-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		handler.log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		handler.log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func tlsConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeAll("mqtt.publish", h.onEvent)

	<-ctx.Done()

	h.eventBus.Unsubscribe(events.EventAll, "mqtt.publish")
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.log.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	topic, ok := TopicFor(h.cfg.TopicPrefix, event.Type)
	if !ok {
		return nil
	}
	h.publish(topic, event)
	return nil
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	topic := TopicClientAdmin
	if h.cfg.TopicPrefix != "" {
		topic = h.cfg.TopicPrefix + "/" + topic
	}
	h.publish(topic, map[string]interface{}{
		"event": "shutdown",
	})
}
