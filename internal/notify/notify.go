// Package notify forwards service log records to external channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slack-go/slack"

	"github.com/KafClaw/sysclaw/internal/servicelog"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// DefaultOutcomes are the outcomes forwarded when a sink names none.
var DefaultOutcomes = []servicelog.Outcome{servicelog.OutcomeViolationFound, servicelog.OutcomeError}

// Filter forwards only records whose outcome is listed.
type Filter struct {
	Next     servicelog.Appender
	Outcomes []servicelog.Outcome
}

// Append implements servicelog.Appender.
func (f *Filter) Append(ctx context.Context, r servicelog.Record) error {
	outcomes := f.Outcomes
	if len(outcomes) == 0 {
		outcomes = DefaultOutcomes
	}
	for _, o := range outcomes {
		if o == r.Outcome {
			return f.Next.Append(ctx, r)
		}
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON to a topic, keyed by host name.
type KafkaSink struct {
	writer  messageWriter
	host    string
	timeout time.Duration
}

// NewKafkaSink creates a synchronous producer for topic.
func NewKafkaSink(brokers []string, topic string, sec KafkaSecurity) (*KafkaSink, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka sink needs brokers and a topic")
	}
	transport, err := sec.Transport(DefaultTimeout)
	if err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Transport:    transport,
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: DefaultTimeout,
	}
	return newKafkaSink(w), nil
}

func newKafkaSink(w messageWriter) *KafkaSink {
	host, _ := os.Hostname()
	return &KafkaSink{writer: w, host: host, timeout: DefaultTimeout}
}

// Append implements servicelog.Appender.
func (k *KafkaSink) Append(ctx context.Context, r servicelog.Record) error {
	value, err := json.Marshal(struct {
		Host string `json:"host"`
		servicelog.Record
	}{Host: k.host, Record: r})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(k.host),
		Value:   value,
		Headers: []kafka.Header{{Key: "outcome", Value: []byte(r.Outcome)}},
		Time:    r.Timestamp,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// SlackSink posts a short message per record to a channel.
type SlackSink struct {
	api     *slack.Client
	channel string
	host    string
	timeout time.Duration
}

// NewSlackSink creates a sink posting to channel. apiBase is optional.
func NewSlackSink(token, channel, apiBase string, client *http.Client) (*SlackSink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("missing Slack bot token")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("missing Slack channel")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	opts := []slack.Option{slack.OptionHTTPClient(client)}
	if base := strings.TrimSpace(apiBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	host, _ := os.Hostname()
	return &SlackSink{
		api:     slack.New(token, opts...),
		channel: channel,
		host:    host,
		timeout: DefaultTimeout,
	}, nil
}

// Append implements servicelog.Appender.
func (s *SlackSink) Append(ctx context.Context, r servicelog.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(FormatRecord(s.host, r), false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// FormatRecord renders r as a one-line alert.
func FormatRecord(host string, r servicelog.Record) string {
	icon := ":white_check_mark:"
	switch r.Outcome {
	case servicelog.OutcomeViolationFound:
		icon = ":warning:"
	case servicelog.OutcomeError:
		icon = ":x:"
	}
	text := fmt.Sprintf("%s *%s* on `%s` at %s: %s", icon, r.Outcome, host, r.Timestamp.UTC().Format(time.RFC3339), r.Detail)
	if r.Job != "" {
		text += fmt.Sprintf(" (job %s)", r.Job)
	}
	return text
}
