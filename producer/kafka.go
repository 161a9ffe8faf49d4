package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"mabletask/tracker/models"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TimelineMessage is the value written per event. The site id travels with
// the event since one topic carries every site.
type TimelineMessage struct {
	SiteID int `json:"site_id"`
	models.TimelineEvent
}

// KafkaProducer mirrors stored timeline events onto a topic, keyed by
// session id so a session's events stay on one partition in order.
type KafkaProducer struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaProducer returns nil when brokers or topic are unset, and a nil
// producer publishes nothing.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: writer, topic: topic, timeout: 5 * time.Second}
}

func buildMessages(siteID int, events []models.TimelineEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(TimelineMessage{SiteID: siteID, TimelineEvent: ev})
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", ev.EventID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.SessionID),
			Value: payload,
			Time:  ev.Timestamp,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
			},
		})
	}
	return msgs, nil
}

// PublishTimeline writes one message per event.
func (p *KafkaProducer) PublishTimeline(ctx context.Context, siteID int, events []models.TimelineEvent) error {
	if p == nil || p.writer == nil || len(events) == 0 {
		return nil
	}
	msgs, err := buildMessages(siteID, events)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msgs...); err != nil {
		log.Printf("producer: kafka publish of %d events to %s failed: %v", len(msgs), p.topic, err)
		return err
	}
	return nil
}

// Close flushes and closes the writer. Safe on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
