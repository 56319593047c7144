// Package config builds session.Options from a connection string, the
// process environment, or a mounted configuration file, mirroring the
// three ways a client is commonly wired up without a broker SDK's own
// bootstrapping code in the way.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-iot/meridian/errs"
	"github.com/lattice-iot/meridian/session"
	"github.com/lattice-iot/meridian/transport"
)

// Settings holds every connection parameter a loader can populate,
// independent of how it was obtained. The zero value is not usable;
// build one with FromConnectionString, FromEnvironment or FromFileMount.
type Settings struct {
	ClientID  string
	ServerURL string
	Username  string
	Password  string

	KeepAlive         time.Duration
	SessionExpiry     time.Duration
	ReceiveMaximum    uint16
	ConnectionTimeout time.Duration
	UserProperties    map[string]string

	UseTLS   bool
	CertFile string
	KeyFile  string
	CAFile   string

	WillTopic    string
	WillPayload  string
	WillQoS      uint8
	WillRetained bool

	passwordFile string
}

func (s *Settings) setDefaults() {
	if s.ReceiveMaximum == 0 {
		s.ReceiveMaximum = defaultReceiveMaximum
	}
}

const defaultReceiveMaximum = 65535

func (s *Settings) validate() error {
	if s.ServerURL == "" {
		return &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "ServerURL", Message: "server URL is required"}
	}
	if s.CertFile != "" && s.KeyFile == "" {
		return &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "KeyFile", Message: "key file is required when a certificate file is provided"}
	}
	return nil
}

// tlsConfig builds a *tls.Config from the file-based settings. Returns
// nil, nil when TLS was not requested and no certificate material was
// given, in which case the caller applies no transport.WithTLS option
// and plain "tcp://" URLs behave as before.
func (s *Settings) tlsConfig() (*tls.Config, error) {
	if !s.UseTLS && s.CertFile == "" && s.CAFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{}
	if s.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "CertFile", Message: err.Error()}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "CAFile", Message: err.Error()}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "CAFile", Message: "no certificates found in CA file"}
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// TransportOptions translates the settings into the transport.Option
// list a session.Options.TransportOptions field expects.
func (s *Settings) TransportOptions() ([]transport.Option, error) {
	var opts []transport.Option
	if s.ClientID != "" {
		opts = append(opts, transport.WithClientID(s.ClientID))
	}
	if s.Username != "" || s.Password != "" {
		opts = append(opts, transport.WithCredentials(s.Username, s.Password))
	}
	if s.KeepAlive > 0 {
		opts = append(opts, transport.WithKeepAlive(s.KeepAlive))
	}
	if s.ConnectionTimeout > 0 {
		opts = append(opts, transport.WithConnectTimeout(s.ConnectionTimeout))
	}
	if s.SessionExpiry > 0 {
		opts = append(opts, transport.WithSessionExpiryInterval(uint32(s.SessionExpiry.Seconds())))
	}
	if s.ReceiveMaximum > 0 {
		opts = append(opts, transport.WithReceiveMaximum(s.ReceiveMaximum, transport.LimitPolicyIgnore))
	}
	if len(s.UserProperties) > 0 {
		opts = append(opts, transport.WithConnectUserProperties(s.UserProperties))
	}
	tlsCfg, err := s.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, transport.WithTLS(tlsCfg))
	}
	if s.WillTopic != "" {
		opts = append(opts, transport.WithWill(s.WillTopic, []byte(s.WillPayload), s.WillQoS, s.WillRetained))
	}
	return opts, nil
}

// SessionOptions builds a session.Options ready to pass to
// session.Connect, with nodeID as its NodeID (the client ID fallback).
func (s *Settings) SessionOptions(nodeID string) (session.Options, error) {
	transportOpts, err := s.TransportOptions()
	if err != nil {
		return session.Options{}, err
	}
	clientID := s.ClientID
	if clientID == "" {
		clientID = nodeID
	}
	return session.Options{
		ServerURL:        s.ServerURL,
		NodeID:           nodeID,
		ClientID:         clientID,
		TransportOptions: transportOpts,
	}, nil
}

// FromConnectionString parses a "Key=Value;Key=Value" string, the
// compact form commonly handed out by a device provisioning step, into
// Settings. Recognized keys: ClientID, HostName (or ServerURL),
// Username, Password, PasswordFile, KeepAlive, SessionExpiry,
// ReceiveMaximum, ConnectionTimeout, UseTLS, CertFile, KeyFile, CAFile.
// Unrecognized keys are rejected rather than silently ignored.
func FromConnectionString(connStr string) (*Settings, error) {
	s := &Settings{}
	for _, field := range strings.Split(connStr, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: fmt.Sprintf("malformed connection string segment %q", field)}
		}
		if err := s.applyField(key, value); err != nil {
			return nil, err
		}
	}
	if s.Password == "" && s.passwordFile != "" {
		b, err := os.ReadFile(s.passwordFile)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "PasswordFile", Message: err.Error()}
		}
		s.Password = strings.TrimSpace(string(b))
	}
	s.setDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// passwordFile is resolved after the whole string has been parsed, so
// it is kept out of the exported Settings shape and stashed here instead.
func (s *Settings) applyField(key, value string) error {
	switch key {
	case "ClientID":
		s.ClientID = value
	case "HostName", "ServerURL":
		s.ServerURL = value
	case "Username":
		s.Username = value
	case "Password":
		s.Password = value
	case "PasswordFile":
		s.passwordFile = value
	case "KeepAlive":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fieldError("KeepAlive", err)
		}
		s.KeepAlive = d
	case "SessionExpiry":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fieldError("SessionExpiry", err)
		}
		s.SessionExpiry = d
	case "ReceiveMaximum":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fieldError("ReceiveMaximum", err)
		}
		s.ReceiveMaximum = uint16(n)
	case "ConnectionTimeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fieldError("ConnectionTimeout", err)
		}
		s.ConnectionTimeout = d
	case "UseTLS":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fieldError("UseTLS", err)
		}
		s.UseTLS = b
	case "CertFile":
		s.CertFile = value
	case "KeyFile":
		s.KeyFile = value
	case "CAFile":
		s.CAFile = value
	default:
		return &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: key, Message: "unrecognized connection string key"}
	}
	return nil
}

func fieldError(name string, err error) error {
	return &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: name, Message: err.Error()}
}
