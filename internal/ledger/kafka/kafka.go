// Package kafka connects the gate to a Kafka-compatible broker: ledger
// transactions arrive on one topic, outbound transactions are queued on
// another for the signing relay, and sealed envelopes are published for
// counterparties on a third.
package kafka

import (
	"errors"
	"io"
	"log/slog"
)

const (
	DefaultTransactionsTopic = "ledger.transactions"
	DefaultSubmissionsTopic  = "ledger.submissions"
	DefaultEnvelopesTopic    = "gate.envelopes"
)

// Config selects brokers and topics.
type Config struct {
	Brokers           []string
	TransactionsTopic string
	SubmissionsTopic  string
	EnvelopesTopic    string
}

func (c Config) withDefaults() Config {
	if c.TransactionsTopic == "" {
		c.TransactionsTopic = DefaultTransactionsTopic
	}
	if c.SubmissionsTopic == "" {
		c.SubmissionsTopic = DefaultSubmissionsTopic
	}
	if c.EnvelopesTopic == "" {
		c.EnvelopesTopic = DefaultEnvelopesTopic
	}
	return c
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	return nil
}

type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
