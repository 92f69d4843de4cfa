package transport

import (
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/config"
)

// FromConfig derives the broker connection settings from the application
// configuration, including proxy or tunnel routing.
func FromConfig(cfg *config.Config) (Config, error) {
	out := Config{
		Scheme:      cfg.MQTT.Broker.Transport,
		Address:     cfg.BrokerAddress(),
		WSPath:      cfg.MQTT.Broker.WSPath,
		DialTimeout: cfg.ConnectTimeout(),
	}
	if out.Scheme == "" {
		out.Scheme = SchemeTCP
	}

	if out.Scheme == SchemeTLS || out.Scheme == SchemeWSS {
		tlsCfg, err := BuildTLSConfig(TLSOptions{
			CAFile:             cfg.MQTT.Broker.TLS.CAFile,
			CertFile:           cfg.MQTT.Broker.TLS.CertFile,
			KeyFile:            cfg.MQTT.Broker.TLS.KeyFile,
			ServerName:         cfg.MQTT.Broker.TLS.ServerName,
			InsecureSkipVerify: cfg.MQTT.Broker.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return Config{}, err
		}
		out.TLS = tlsCfg
	}

	switch {
	case cfg.Proxy.Enabled:
		out.Dialer = &SOCKS5Dialer{
			Address:  cfg.Proxy.Address,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
			Timeout:  out.DialTimeout,
		}
	case cfg.Tunnel.Enabled:
		out.Dialer = NewSSHDialer(&SSHConfig{
			User:          cfg.Tunnel.User,
			Host:          cfg.Tunnel.Host,
			Port:          cfg.Tunnel.Port,
			KeyPath:       cfg.Tunnel.KeyPath,
			PromptPass:    cfg.Tunnel.PromptPassword,
			UseAgent:      cfg.Tunnel.UseAgent,
			StrictHostKey: cfg.Tunnel.StrictHostKey,
			KnownHosts:    cfg.Tunnel.KnownHosts,
			ConnTimeout:   time.Duration(cfg.Tunnel.ConnectTimeout) * time.Second,
		})
	}

	return out, nil
}
