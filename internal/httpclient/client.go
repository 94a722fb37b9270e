// Package httpclient builds the outbound HTTP client shared by a service's
// collaborators (plan lookups, payment gateways, notification providers).
// Each binary creates one in main and closes its idle connections on
// shutdown.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/insureflow/internal/config"
)

type Config struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers once the request is
	// written.
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.ConnectTimeout, err = config.Duration("HTTP_CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = config.Duration("HTTP_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func New(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.ReadTimeout

	return &http.Client{
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
