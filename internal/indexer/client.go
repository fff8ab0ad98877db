// Package indexer writes event documents to OpenSearch: single and bulk
// writes, daily index routing, index template and lifecycle bootstrap, and
// retention cleanup.
package indexer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
)

// Config holds OpenSearch connection and index management configuration.
type Config struct {
	Hosts          []string
	Username       string
	Password       string
	UseSSL         bool
	TLSSkipVerify  bool
	CACertPath     string
	IndexPrefix    string
	BulkChunkSize  int
	WorkerPoolSize int
	Timeout        time.Duration
	MaxRetries     int
}

// DefaultConfig returns sensible defaults for a local deployment.
func DefaultConfig() Config {
	return Config{
		Hosts:          []string{"http://localhost:9200"},
		IndexPrefix:    "sentry-events",
		BulkChunkSize:  500,
		WorkerPoolSize: 10,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
	}
}

// NewOpenSearchClient builds the low-level client from config, including
// optional basic auth and TLS settings.
func NewOpenSearchClient(cfg Config) (*opensearch.Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}

	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	osCfg := opensearch.Config{
		Addresses: normalizeHosts(cfg.Hosts, cfg.UseSSL),
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
		MaxRetries:    cfg.MaxRetries,
		RetryOnStatus: []int{502, 503, 504, 429},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

// normalizeHosts applies the use_ssl setting to the configured addresses:
// schemeless hosts get a scheme and plain http addresses are upgraded to
// https when SSL is required. Explicit https addresses are left alone.
func normalizeHosts(hosts []string, useSSL bool) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		switch {
		case useSSL && strings.HasPrefix(h, "http://"):
			h = "https://" + strings.TrimPrefix(h, "http://")
		case !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://"):
			if useSSL {
				h = "https://" + h
			} else {
				h = "http://" + h
			}
		}
		out = append(out, h)
	}
	return out
}
