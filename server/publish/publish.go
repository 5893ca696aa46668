// Package publish sends every classification record to a Kafka topic, so that downstream
// consumers see alerts as they are classified.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/server/classify"
	"github.com/google/uuid"
)

// Config of the Kafka producer. Empty SASL fields mean a plaintext connection.
type Config struct {
	BootstrapServers string `json:"bootstrapServers"`
	Topic            string `json:"topic"`
	SecurityProtocol string `json:"securityProtocol"`
	SASLMechanism    string `json:"saslMechanism"`
	SASLUsername     string `json:"saslUsername"`
	SASLPassword     string `json:"saslPassword"`
	Acks             string `json:"acks"`
	LingerMS         int    `json:"lingerMS"`
}

func (c *Config) Enabled() bool {
	return c.BootstrapServers != "" && c.Topic != ""
}

func (c *Config) configMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":   c.BootstrapServers,
		"acks":                "all",
		"enable.idempotence":  true,
		"linger.ms":           10,
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	}
	if c.Acks != "" {
		cm.SetKey("acks", c.Acks)
	}
	if c.LingerMS != 0 {
		cm.SetKey("linger.ms", c.LingerMS)
	}
	if c.SecurityProtocol != "" {
		cm.SetKey("security.protocol", c.SecurityProtocol)
	}
	if c.SASLMechanism != "" {
		cm.SetKey("sasl.mechanism", c.SASLMechanism)
		cm.SetKey("sasl.username", c.SASLUsername)
		cm.SetKey("sasl.password", c.SASLPassword)
	}
	return cm
}

// Message is the JSON value of every Kafka message
type Message struct {
	ID     string          `json:"id"`
	RunID  string          `json:"runID"`
	Record classify.Record `json:"record"`
}

// Publisher sends records somewhere
type Publisher interface {
	Publish(rec classify.Record) error
	Close()
}

// Metrics of a KafkaPublisher
type Metrics struct {
	Sent   int64
	Acked  int64
	Failed int64
}

type KafkaPublisher struct {
	log      logs.Log
	producer *kafka.Producer
	topic    string
	runID    string
	delivery chan kafka.Event
	wg       sync.WaitGroup

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64
}

// NewKafkaPublisher connects to Kafka. Every message carries runID, so that consumers can
// tell apart the records of different batch runs.
func NewKafkaPublisher(log logs.Log, cfg Config, runID string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(cfg.configMap())
	if err != nil {
		return nil, fmt.Errorf("Failed to create Kafka producer: %w", err)
	}
	kp := &KafkaPublisher{
		log:      log,
		producer: p,
		topic:    cfg.Topic,
		runID:    runID,
		delivery: make(chan kafka.Event, 1000),
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()
	log.Infof("Kafka publisher ready. Topic: %v, Servers: %v", cfg.Topic, cfg.BootstrapServers)
	return kp, nil
}

// Runs until Close closes the delivery channel
func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for e := range kp.delivery {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			kp.failed.Add(1)
			kp.log.Warnf("Kafka delivery of %v failed: %v", string(m.Key), m.TopicPartition.Error)
		} else {
			kp.acked.Add(1)
		}
	}
}

func (kp *KafkaPublisher) message(rec classify.Record) (*kafka.Message, error) {
	id := uuid.NewString()
	value, err := json.Marshal(&Message{
		ID:     id,
		RunID:  kp.runID,
		Record: rec,
	})
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(id),
		Value: value,
		Headers: []kafka.Header{
			{Key: "location", Value: []byte(rec.Location)},
			{Key: "accurate_alert", Value: []byte(fmt.Sprintf("%v", rec.AccurateAlert))},
		},
	}, nil
}

// Publish queues the record. Delivery is asynchronous, and delivery failures show up in Metrics.
func (kp *KafkaPublisher) Publish(rec classify.Record) error {
	msg, err := kp.message(rec)
	if err != nil {
		return err
	}
	if err := kp.producer.Produce(msg, kp.delivery); err != nil {
		kp.failed.Add(1)
		return fmt.Errorf("Failed to queue Kafka message for %v: %w", rec.Image, err)
	}
	kp.sent.Add(1)
	return nil
}

func (kp *KafkaPublisher) Metrics() Metrics {
	return Metrics{
		Sent:   kp.sent.Load(),
		Acked:  kp.acked.Load(),
		Failed: kp.failed.Load(),
	}
}

// CloseTimeout waits up to flushTimeout for queued messages, then shuts down
func (kp *KafkaPublisher) CloseTimeout(flushTimeout time.Duration) {
	if remaining := kp.producer.Flush(int(flushTimeout.Milliseconds())); remaining > 0 {
		kp.log.Warnf("%v Kafka messages still queued after flush", remaining)
	}
	kp.producer.Close()
	close(kp.delivery)
	kp.wg.Wait()
	m := kp.Metrics()
	kp.log.Infof("Kafka publisher closed. Sent: %v, Acked: %v, Failed: %v", m.Sent, m.Acked, m.Failed)
}

func (kp *KafkaPublisher) Close() {
	kp.CloseTimeout(30 * time.Second)
}

// Discard is a Publisher that does nothing
type Discard struct{}

func (Discard) Publish(rec classify.Record) error { return nil }
func (Discard) Close()                            {}
