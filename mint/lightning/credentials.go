package lightning

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"gopkg.in/macaroon.v2"
)

type BackendKind string

const (
	Lnbits  BackendKind = "lnbits"
	LndRest BackendKind = "lnd-rest"
	ClnRest BackendKind = "cln-rest"
	// Fake runs an in-memory backend that settles everything immediately.
	// Only meant for tests and local development.
	Fake BackendKind = "fake"
)

// Config is the connection material for a backend as it comes from the
// environment. Auth material is referenced by path and read once at
// resolution time.
type Config struct {
	Kind         BackendKind
	Endpoint     string
	APIKey       string
	MacaroonPath string
	CertPath     string
	// per-call timeout for every request to the backend
	Timeout time.Duration
}

// Credentials is the resolved connection material for a backend. The raw
// auth material lives only here; log lines must use Redact.
type Credentials struct {
	endpoint string
	apiKey   string
	macaroon []byte
	tlsCert  []byte
	timeout  time.Duration
}

const defaultTimeout = 30 * time.Second

// ResolveCredentials validates the presence of the fields the backend kind
// requires, reads macaroon and certificate files into memory and returns a
// handle adapters build their transport from. It makes no network call.
func ResolveCredentials(cfg Config) (Credentials, error) {
	if cfg.Endpoint == "" {
		return Credentials{}, configErrorf("endpoint cannot be empty for backend '%s'", cfg.Kind)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	creds := Credentials{endpoint: cfg.Endpoint, timeout: timeout}

	switch cfg.Kind {
	case Lnbits:
		if cfg.APIKey == "" {
			return Credentials{}, configErrorf("api key cannot be empty for backend '%s'", cfg.Kind)
		}
		creds.apiKey = cfg.APIKey

	case LndRest, ClnRest:
		if cfg.MacaroonPath == "" {
			return Credentials{}, configErrorf("macaroon path cannot be empty for backend '%s'", cfg.Kind)
		}
		if cfg.CertPath == "" {
			return Credentials{}, configErrorf("cert path cannot be empty for backend '%s'", cfg.Kind)
		}
		macaroonBytes, err := os.ReadFile(cfg.MacaroonPath)
		if err != nil {
			return Credentials{}, configErrorf("could not read macaroon: %v", err)
		}
		// decode to catch a truncated or wrong file before the first request
		mac := &macaroon.Macaroon{}
		if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
			return Credentials{}, configErrorf("invalid macaroon at %s: %v", cfg.MacaroonPath, err)
		}
		creds.macaroon = macaroonBytes

		cert, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return Credentials{}, configErrorf("could not read tls cert: %v", err)
		}
		if !x509.NewCertPool().AppendCertsFromPEM(cert) {
			return Credentials{}, configErrorf("no certificate found in %s", cfg.CertPath)
		}
		creds.tlsCert = cert

	default:
		return Credentials{}, configErrorf("unknown backend kind '%s'", cfg.Kind)
	}

	return creds, nil
}

// httpClient builds the transport all requests to this backend go through.
// When a certificate was configured it is pinned as the only trusted root.
// The returned client is safe for concurrent use.
func (c Credentials) httpClient() *http.Client {
	client := &http.Client{Timeout: c.timeout}

	if len(c.tlsCert) > 0 {
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(c.tlsCert)
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: certPool,
			},
		}
	}

	return client
}

// Redact returns a loggable form of the configured auth material.
func (c Credentials) Redact() string {
	material := c.apiKey
	if len(c.macaroon) > 0 {
		material = string(c.macaroon)
	}
	if len(material) <= 6 {
		return "******"
	}
	return material[:6] + "..."
}

// NewClient maps the configured backend kind to its adapter. Unknown kinds
// fail here, at startup, never at request time.
func NewClient(cfg Config) (Client, error) {
	if cfg.Kind == Fake {
		return NewFakeBackend(), nil
	}

	creds, err := ResolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case Lnbits:
		return SetupLnbitsClient(creds), nil
	case LndRest:
		return SetupLndClient(creds), nil
	case ClnRest:
		return SetupClnClient(creds), nil
	default:
		return nil, configErrorf("unknown backend kind '%s'", cfg.Kind)
	}
}
