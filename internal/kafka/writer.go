package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/dataset"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces one message per heatwave record to a Kafka topic.
type Writer struct {
	writer messageWriter
	season calendar.Season
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, season calendar.Season, clock clockwork.Clock, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, season: season, clock: clock, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Publish serializes and publishes records in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, recs []dataset.Record) error {
	if len(recs) == 0 {
		return nil
	}
	computedAt := w.clock.Now().UTC()
	msgs := make([]kafkago.Message, len(recs))
	for i := range recs {
		msg, err := serializeToMessage(&recs[i], w.season, computedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	w.logger.Debug("Published heatwave records", "count", len(msgs))
	return nil
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// heatwaveMessage is the JSON payload. Undefined metrics are null.
type heatwaveMessage struct {
	Year      int      `json:"year"`
	Season    string   `json:"season"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	HWA       *float64 `json:"hwa"`
	HWM       *float64 `json:"hwm"`
	HWN       *float64 `json:"hwn"`
	HWF       *float64 `json:"hwf"`
	HWD       *float64 `json:"hwd"`
	HWT       *float64 `json:"hwt"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// messageKey identifies a record by season year and grid point.
func messageKey(r *dataset.Record) string {
	return strconv.Itoa(r.Year) + "/" +
		strconv.FormatFloat(r.Latitude, 'f', -1, 64) + "/" +
		strconv.FormatFloat(r.Longitude, 'f', -1, 64)
}

// serializeToMessage marshals a record into a Kafka message.
func serializeToMessage(r *dataset.Record, season calendar.Season, computedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(heatwaveMessage{
		Year:      r.Year,
		Season:    season.String(),
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		HWA:       nullable(r.HWA),
		HWM:       nullable(r.HWM),
		HWN:       nullable(r.HWN),
		HWF:       nullable(r.HWF),
		HWD:       nullable(r.HWD),
		HWT:       nullable(r.HWT),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize heatwave record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(messageKey(r)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "season", Value: []byte(season.String())},
			{Key: "computed_at", Value: []byte(computedAt.Format(time.RFC3339))},
		},
	}, nil
}
