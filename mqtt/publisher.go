package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/eddielth/csv-device-split/config"
	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/transformer"
)

// Publisher pushes canonical records and run summaries to an MQTT broker so
// downstream consumers (RDFizer feeders, dashboards) can follow a run live.
type Publisher struct {
	client mqtt.Client
	config config.MQTTConfig
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("csv-device-split-%d", time.Now().Unix())
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	client := mqtt.NewClient(opts)

	return &Publisher{
		client: client,
		config: cfg,
	}, nil
}

// Connect connects to the MQTT broker
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}

	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully connected to MQTT broker: %s", p.config.Broker)
	return nil
}

// PublishRecord publishes one canonical record to the device's topic.
// Failures are reported to the caller but never abort the run.
func (p *Publisher) PublishRecord(record transformer.CanonicalRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %v", err)
	}
	return p.publish(RecordTopic(p.config.TopicPrefix, record.Device), payload)
}

// PublishSummary publishes the end-of-run summary
func (p *Publisher) PublishSummary(summary interface{}) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize run summary: %v", err)
	}
	return p.publish(SummaryTopic(p.config.TopicPrefix), payload)
}

// publish sends a payload at QoS 0; a slow broker must not stall the pipeline
func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return err
	}

	logger.Debug("published message to topic %s", topic)
	return nil
}

// Disconnect disconnects from the MQTT broker
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}

// RecordTopic builds the topic one device's records are published on.
// The topic format is: <prefix>/devices/<device_key>/records
func RecordTopic(prefix, deviceKey string) string {
	return fmt.Sprintf("%s/devices/%s/records", prefix, deviceKey)
}

// SummaryTopic builds the run summary topic: <prefix>/runs
func SummaryTopic(prefix string) string {
	return fmt.Sprintf("%s/runs", prefix)
}
