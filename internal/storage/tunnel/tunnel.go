// Package tunnel establishes an SSH local port forward so a network storage
// engine can be reached through an intermediate trusted host. The tunnel
// listens on an ephemeral loopback port; the storage connection is rewired
// to that endpoint by the connection manager.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

// Config describes how to reach the intermediate host.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey string
	Passphrase string
	Timeout    time.Duration
}

// Tunnel is an open forwarding channel. Close must always be attempted,
// even when the outer storage connection failed to close.
type Tunnel struct {
	client *ssh.Client
	ln     net.Listener
	remote string
	logger logging.Logger
}

// Open dials the SSH host, starts a loopback listener, and forwards every
// accepted connection to remoteHost:remotePort through the SSH channel.
// A failure on any step tears down whatever was already established; there
// is no partial success.
func Open(ctx context.Context, cfg Config, remoteHost string, remotePort int, logger logging.Logger) (*Tunnel, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	var signer ssh.Signer
	var err error
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open local listener: %w", err)
	}

	t := &Tunnel{
		client: client,
		ln:     ln,
		remote: net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)),
		logger: logger,
	}
	go t.acceptLoop(ctx)

	return t, nil
}

// LocalAddr returns the loopback endpoint the storage connection should
// target instead of the real host/port.
func (t *Tunnel) LocalAddr() (host string, port int) {
	tcp := t.ln.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

// Close shuts down the listener and the SSH client. Both closes are always
// attempted; errors are joined rather than short-circuiting.
func (t *Tunnel) Close() error {
	return errors.Join(t.ln.Close(), t.client.Close())
}

func (t *Tunnel) acceptLoop(ctx context.Context) {
	for {
		local, err := t.ln.Accept()
		if err != nil {
			// Listener closed: the tunnel was torn down.
			return
		}
		go t.forward(ctx, local)
	}
}

func (t *Tunnel) forward(ctx context.Context, local net.Conn) {
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.logger.Warn(ctx, "tunnel: remote dial failed", "remote", t.remote, "err", err)
		_ = local.Close()
		return
	}

	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go cp(remote, local)
	go cp(local, remote)

	<-done
	_ = local.Close()
	_ = remote.Close()
	<-done
}
