package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// Prompt reads a secret from the user. Nil uses the controlling terminal.
	Prompt func(label string) ([]byte, error)
}

// SSHDialer routes connections through an SSH gateway with ssh.Client.Dial.
// The SSH session is established lazily on the first Dial and torn down
// on Close.
type SSHDialer struct {
	config *SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer creates a dialer that is ready to Dial.
func NewSSHDialer(cfg *SSHConfig) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHDialer{config: cfg}
}

// connect dials the SSH gateway and completes the handshake if needed.
func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	authMethods, err := BuildAuthMethods(d.config)
	if err != nil {
		return nil, fmt.Errorf("ssh auth %s: %w", d.config.Host, err)
	}
	hkCallback, err := hostKeyCallback(d.config)
	if err != nil {
		return nil, fmt.Errorf("ssh hostkey %s: %w", d.config.Host, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         d.config.ConnTimeout,
	}

	addr := net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))

	// Use a context-aware TCP dial so callers can cancel.
	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	d.client = ssh.NewClient(sshConn, chans, reqs)
	return d.client, nil
}

// Dial forwards a connection to address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	// SSH channels reject deadlines.
	return newStreamPump(conn), nil
}

// Close shuts down the SSH connection.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}
