package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lattice-iot/meridian/errs"
)

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// environment variable names consumed by FromEnvironment, all under the
// prefix argument (e.g. "MQTT"; there is no default): <PREFIX>_SERVER_URL, _CLIENT_ID,
// _USERNAME, _PASSWORD, _PASSWORD_FILE, _KEEP_ALIVE, _SESSION_EXPIRY,
// _RECEIVE_MAXIMUM, _CONNECTION_TIMEOUT, _USE_TLS, _CERT_FILE, _KEY_FILE,
// _CA_FILE.

// FromEnvironment builds Settings from environment variables under
// prefix (e.g. prefix "MQTT" reads MQTT_SERVER_URL, MQTT_CLIENT_ID, …).
// An empty prefix reads the bare names.
func FromEnvironment(prefix string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	s := &Settings{
		ClientID:          v.GetString("client_id"),
		ServerURL:         v.GetString("server_url"),
		Username:          v.GetString("username"),
		Password:          v.GetString("password"),
		passwordFile:      v.GetString("password_file"),
		KeepAlive:         v.GetDuration("keep_alive"),
		SessionExpiry:     v.GetDuration("session_expiry"),
		ConnectionTimeout: v.GetDuration("connection_timeout"),
		UseTLS:            v.GetBool("use_tls"),
		CertFile:          v.GetString("cert_file"),
		KeyFile:           v.GetString("key_file"),
		CAFile:            v.GetString("ca_file"),
	}
	if rm := v.GetUint("receive_maximum"); rm > 0 {
		if rm > 65535 {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "ReceiveMaximum", Message: "exceeds uint16 range"}
		}
		s.ReceiveMaximum = uint16(rm)
	}
	if s.Password == "" && s.passwordFile != "" {
		b, err := readFile(s.passwordFile)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "password_file", Message: err.Error()}
		}
		s.Password = strings.TrimSpace(b)
	}

	s.setDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var envKeys = []string{
	"client_id", "server_url", "username", "password", "password_file",
	"keep_alive", "session_expiry", "receive_maximum", "connection_timeout",
	"use_tls", "cert_file", "key_file", "ca_file",
}

// FromFileMount loads Settings from a YAML, JSON or TOML file at path,
// as when a secret/config volume is mounted into a container. The keys
// mirror the environment variable names in lowercase, e.g. server_url,
// client_id, keep_alive.
func FromFileMount(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, Message: err.Error()}
	}

	s := &Settings{
		ClientID:          v.GetString("client_id"),
		ServerURL:         v.GetString("server_url"),
		Username:          v.GetString("username"),
		Password:          v.GetString("password"),
		passwordFile:      v.GetString("password_file"),
		KeepAlive:         viperDuration(v, "keep_alive"),
		SessionExpiry:     viperDuration(v, "session_expiry"),
		ConnectionTimeout: viperDuration(v, "connection_timeout"),
		UseTLS:            v.GetBool("use_tls"),
		CertFile:          v.GetString("cert_file"),
		KeyFile:           v.GetString("key_file"),
		CAFile:            v.GetString("ca_file"),
		WillTopic:         v.GetString("will_topic"),
		WillPayload:       v.GetString("will_payload"),
		WillRetained:      v.GetBool("will_retained"),
	}
	if rm := v.GetUint("receive_maximum"); rm > 0 {
		if rm > 65535 {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "receive_maximum", Message: "exceeds uint16 range"}
		}
		s.ReceiveMaximum = uint16(rm)
	}
	if wq := v.GetUint("will_qos"); wq <= 2 {
		s.WillQoS = uint8(wq)
	}
	if v.IsSet("user_properties") {
		s.UserProperties = v.GetStringMapString("user_properties")
	}
	if s.Password == "" && s.passwordFile != "" {
		b, err := readFile(s.passwordFile)
		if err != nil {
			return nil, &errs.Error{Kind: errs.ConfigurationInvalid, PropertyName: "password_file", Message: err.Error()}
		}
		s.Password = strings.TrimSpace(b)
	}

	s.setDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func viperDuration(v *viper.Viper, key string) time.Duration {
	if !v.IsSet(key) {
		return 0
	}
	return v.GetDuration(key)
}
