package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/config"
	"github.com/couchcryptid/climate-risk-api/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes jobs to the computation engine's topic.
// It implements jobs.Dispatcher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured dispatch topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaDispatchTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Dispatch publishes one job. Messages are keyed by job ID so every attempt
// at the same job lands on the same partition.
func (w *Writer) Dispatch(ctx context.Context, d domain.JobDispatch) error {
	msg, err := serializeToMessage(d)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job %s: %w", d.JobID, err)
	}
	w.logger.Debug("job published", "job_id", d.JobID, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a JobDispatch into a Kafka message.
func serializeToMessage(d domain.JobDispatch) (kafkago.Message, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job dispatch: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(d.JobID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "widget", Value: []byte(d.Widget)},
			{Key: "submitted_at", Value: []byte(d.SubmittedAt.UTC().Format(time.RFC3339Nano))},
		},
	}, nil
}
