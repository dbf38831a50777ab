package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shaunagostinho/gnssd/internal/nmea"
)

const publishTimeout = 2 * time.Second

// Config holds MQTT publishing settings.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	RawNMEA     bool // Also publish every sentence on <prefix>/nmea
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Publisher forwards session output to an MQTT broker. Fixes and satellite
// tables are retained so late subscribers see the latest state.
//
// The handlers never wait on the broker: while the connection is down
// messages are dropped, and delivery results are checked in the background.
// They must be called from one goroutine.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	raw     bool
	offline bool
	dropped int
}

// Connect dials the broker and returns a publisher.
func Connect(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		// Keeps retrying in the background.
		log.Printf("[mqtt] %s not reachable yet, retrying", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	} else {
		log.Printf("[mqtt] connected to %s", cfg.Broker)
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client Client, cfg Config) *Publisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "gnssd"
	}
	return &Publisher{client: client, prefix: prefix, qos: cfg.QoS, raw: cfg.RawNMEA}
}

func (p *Publisher) HandleFix(fix nmea.Fix) {
	p.publishJSON("fix", true, fix)
}

func (p *Publisher) HandleSatellites(sats []nmea.Satellite) {
	p.publishJSON("satellites", true, sats)
}

func (p *Publisher) HandleSentence(_ int64, sentence string) {
	if !p.raw {
		return
	}
	p.publish("nmea", false, []byte(sentence))
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) publishJSON(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[mqtt] marshal %s: %v", topic, err)
		return
	}
	p.publish(topic, retained, payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	if !p.client.IsConnectionOpen() {
		if !p.offline {
			log.Printf("[mqtt] broker offline, dropping messages")
			p.offline = true
		}
		p.dropped++
		return
	}
	if p.offline {
		log.Printf("[mqtt] broker back, %d messages dropped", p.dropped)
		p.offline = false
		p.dropped = 0
	}

	full := p.prefix + "/" + topic
	token := p.client.Publish(full, p.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("[mqtt] publish %s timed out", full)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("[mqtt] publish %s: %v", full, err)
		}
	}()
}
