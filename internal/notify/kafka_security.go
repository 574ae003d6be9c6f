package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// KafkaSecurity configures TLS and SASL for the Kafka sink. The zero value
// is PLAINTEXT without authentication.
type KafkaSecurity struct {
	// Protocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	Protocol string
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string
	Username  string
	Password  string
	CAFile    string
	CertFile  string
	KeyFile   string
}

func (s KafkaSecurity) protocol() string {
	p := strings.ToUpper(strings.TrimSpace(s.Protocol))
	if p == "" {
		return "PLAINTEXT"
	}
	return p
}

// TLSConfig returns nil when the protocol does not use TLS.
func (s KafkaSecurity) TLSConfig(serverName string) (*tls.Config, error) {
	switch s.protocol() {
	case "SSL", "SASL_SSL":
	case "PLAINTEXT", "SASL_PLAINTEXT":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported kafka security protocol: %s", s.Protocol)
	}

	conf := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("bad CA PEM")
		}
		conf.RootCAs = pool
	}
	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// SASLMechanism returns nil when no mechanism is configured.
func (s KafkaSecurity) SASLMechanism() (sasl.Mechanism, error) {
	mech := strings.ToUpper(strings.TrimSpace(s.Mechanism))
	switch mech {
	case "":
		if strings.HasPrefix(s.protocol(), "SASL_") {
			return nil, fmt.Errorf("missing sasl mechanism for security protocol %s", s.protocol())
		}
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: s.Username, Password: s.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, s.Username, s.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, s.Username, s.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", s.Mechanism)
	}
}

// Transport builds the writer transport.
func (s KafkaSecurity) Transport(timeout time.Duration) (*kafka.Transport, error) {
	tlsConf, err := s.TLSConfig("")
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	mech, err := s.SASLMechanism()
	if err != nil {
		return nil, fmt.Errorf("sasl config: %w", err)
	}
	return &kafka.Transport{TLS: tlsConf, SASL: mech, DialTimeout: timeout}, nil
}

// ProbeKafka dials each broker until one answers ApiVersions. The error of
// the last broker tried is returned when none does.
func ProbeKafka(ctx context.Context, brokers []string, sec KafkaSecurity) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	mech, err := sec.SASLMechanism()
	if err != nil {
		return err
	}
	var lastErr error
	for _, addr := range brokers {
		host, _, _ := net.SplitHostPort(addr)
		tlsConf, err := sec.TLSConfig(host)
		if err != nil {
			return err
		}
		d := &kafka.Dialer{Timeout: DefaultTimeout, DualStack: true, TLS: tlsConf, SASLMechanism: mech}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", addr, err)
			continue
		}
		_, err = conn.ApiVersions()
		_ = conn.Close()
		if err != nil {
			lastErr = fmt.Errorf("api versions %s: %w", addr, err)
			continue
		}
		return nil
	}
	return lastErr
}
