package kafka_transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/depools/mms/transport"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const (
	kafkaMinBytes    = 10
	kafkaMaxBytes    = 10e6
	kafkaMaxAttempts = 16
)

type KafkaAuthCredentials struct {
	Username string
	Password string
}

// KafkaTransport is the production gateway: one topic acts as the
// shared bulletin board, the kafka consumer group tracks the read
// position. The explicit offset passed to GetEnvelopes is ignored.
type KafkaTransport struct {
	reader                               *kafka.Reader
	writer                               *kafka.Writer
	tlsConfig                            *tls.Config
	producerCreds, consumerCreds         *plain.Mechanism
	brokerEndpoint, consumerGroup, topic string
	timeout                              time.Duration

	idIgnoreList     map[string]struct{}
	offsetIgnoreList map[uint64]struct{}
}

func NewKafkaTransport(
	brokerEndpoint,
	topic,
	consumerGroup string,
	tlsConfig *tls.Config,
	producerCreds,
	consumerCreds *plain.Mechanism,
	timeout time.Duration,
) (*KafkaTransport, error) {
	kt := &KafkaTransport{
		brokerEndpoint: brokerEndpoint,
		topic:          topic,
		consumerGroup:  consumerGroup,
		tlsConfig:      tlsConfig,
		producerCreds:  producerCreds,
		consumerCreds:  consumerCreds,
		timeout:        timeout,

		idIgnoreList:     map[string]struct{}{},
		offsetIgnoreList: map[uint64]struct{}{},
	}
	if err := kt.reset(); err != nil {
		return nil, fmt.Errorf("failed to create a NewKafkaTransport: %w", err)
	}

	return kt, nil
}

func (kt *KafkaTransport) Close() error {
	if kt.reader != nil {
		if err := kt.reader.Close(); err != nil {
			return fmt.Errorf("failed to Close reader: %w", err)
		}
	}

	if kt.writer != nil {
		if err := kt.writer.Close(); err != nil {
			return fmt.Errorf("failed to Close writer: %w", err)
		}
	}

	return nil
}

func (kt *KafkaTransport) Send(envelopes ...transport.Envelope) error {
	kafkaMessages, err := kt.envelopesToKafkaMessages(envelopes...)
	if err != nil {
		return fmt.Errorf("failed to envelopesToKafkaMessages: %w", err)
	}

	if err := kt.writer.WriteMessages(context.Background(), kafkaMessages...); err != nil {
		return fmt.Errorf("failed to WriteMessages: %w", err)
	}

	return nil
}

func (kt *KafkaTransport) GetEnvelopes(_ uint64) ([]transport.Envelope, error) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Second*10))
	defer cancel()

	var (
		envelope  transport.Envelope
		envelopes []transport.Envelope
	)
	for {
		kafkaMessage, err := kt.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			} else {
				return nil, fmt.Errorf("failed to ReadMessage: %w", err)
			}
		}

		if err = json.Unmarshal(kafkaMessage.Value, &envelope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal an envelope %s: %v",
				string(kafkaMessage.Value), err)
		}

		envelope.Offset = uint64(kafkaMessage.Offset)

		_, idOk := kt.idIgnoreList[envelope.ID]
		_, offsetOk := kt.offsetIgnoreList[envelope.Offset]
		if !idOk && !offsetOk {
			envelopes = append(envelopes, envelope)
		}
	}

	return envelopes, nil
}

// IgnoreEnvelopes adds envelope ids (or raw offsets, when useOffset is
// set) to the skip list. Used to get past poison entries on the topic.
func (kt *KafkaTransport) IgnoreEnvelopes(envelopes []string, useOffset bool) error {
	for _, e := range envelopes {
		if useOffset {
			offset, err := strconv.ParseUint(e, 10, 64)
			if err != nil {
				return fmt.Errorf("failed to parse envelope offset: %v", err)
			}
			kt.offsetIgnoreList[offset] = struct{}{}

			continue
		}

		kt.idIgnoreList[e] = struct{}{}
	}

	return nil
}

func (kt *KafkaTransport) UnignoreEnvelopes() {
	kt.idIgnoreList = map[string]struct{}{}
	kt.offsetIgnoreList = map[uint64]struct{}{}
}

// SetConsumerGroup switches the consumer group and reconnects, which
// makes kafka replay the topic from the group's committed position.
func (kt *KafkaTransport) SetConsumerGroup(cg string) error {
	kt.consumerGroup = cg
	if err := kt.reset(); err != nil {
		return fmt.Errorf("failed to reset kafka transport after setting consumer group: %w", err)
	}

	return nil
}

func (kt *KafkaTransport) envelopesToKafkaMessages(envelopes ...transport.Envelope) ([]kafka.Message, error) {
	kafkaMessages := make([]kafka.Message, len(envelopes))
	for i, e := range envelopes {
		data, err := json.Marshal(e)
		if err != nil {
			return kafkaMessages, fmt.Errorf("failed to marshal an envelope %v: %v", e, err)
		}
		kafkaMessages[i] = kafka.Message{Key: []byte(e.ID), Value: data}
	}

	return kafkaMessages, nil
}

func (kt *KafkaTransport) reset() error {
	if err := kt.Close(); err != nil {
		return fmt.Errorf("failed to Close connections: %w", err)
	}

	kt.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{kt.brokerEndpoint},
		GroupID:     kt.consumerGroup,
		Topic:       kt.topic,
		MinBytes:    kafkaMinBytes,
		MaxBytes:    kafkaMaxBytes,
		MaxAttempts: kafkaMaxAttempts,
		Dialer: &kafka.Dialer{
			Timeout:       kt.timeout,
			DualStack:     true,
			TLS:           kt.tlsConfig,
			SASLMechanism: kt.consumerCreds,
		},
	})

	kafka.DefaultTransport = &kafka.Transport{
		Dial: (&net.Dialer{
			Timeout: kt.timeout,
		}).DialContext,
		TLS:  kt.tlsConfig,
		SASL: kt.producerCreds,
	}
	kt.writer = &kafka.Writer{
		Addr:         kafka.TCP(kt.brokerEndpoint),
		Topic:        kt.topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  kafkaMaxAttempts,
		BatchTimeout: kt.timeout,
		ReadTimeout:  kt.timeout,
		WriteTimeout: kt.timeout,
	}

	return nil
}
