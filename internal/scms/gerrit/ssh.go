package gerrit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
)

// DefaultPort is the Gerrit SSH daemon port.
const DefaultPort = "29418"

// SSHRunner runs commands on the Gerrit SSH daemon, one connection per command.
type SSHRunner struct {
	addr   string
	config *ssh.ClientConfig
}

var _ Runner = &SSHRunner{}

// NewSSHRunner creates a runner authenticating as username with privateKey.
// The host key is checked against knownHostsFile when it is set.
func NewSSHRunner(server, username string, privateKey, passphrase []byte, knownHostsFile string) (*SSHRunner, error) {
	if server == "" {
		return nil, errors.New("gerrit server is required")
	}
	if username == "" {
		return nil, errors.New("gerrit username is required")
	}

	var signer ssh.Signer
	var err error
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // known hosts are optional
	if knownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &SSHRunner{
		addr: Address(server),
		config: &ssh.ClientConfig{
			User:            username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
		},
	}, nil
}

// Address appends the default port to servers given without one.
func Address(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), DefaultPort)
}

// Run executes args. A non-zero exit status is returned as a
// *dispatcher.RemoteRejection carrying the command's stderr.
func (r *SSHRunner) Run(ctx context.Context, args ...string) error {
	logger := log.FromContext(ctx).WithValues("server", r.addr)
	target := "ssh://" + r.addr

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, r.config)
	if err != nil {
		_ = conn.Close()
		return r.ctxErr(ctx, fmt.Errorf("ssh handshake with %s failed: %w", target, err))
	}
	client := ssh.NewClient(c, chans, reqs)
	defer func() {
		_ = client.Close()
	}()

	session, err := client.NewSession()
	if err != nil {
		return r.ctxErr(ctx, fmt.Errorf("failed to open ssh session: %w", err))
	}
	defer func() {
		_ = session.Close()
	}()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	cmdline := payload.ShellQuote(args...)
	logger.V(4).Info("Running gerrit command", "command", args[:min(len(args), 2)])
	if err := session.Run(cmdline); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &dispatcher.RemoteRejection{
				URL:     target,
				Status:  fmt.Sprintf("exit status %d", exitErr.ExitStatus()),
				Message: strings.TrimSpace(stderr.String()),
			}
		}
		return r.ctxErr(ctx, fmt.Errorf("failed to run %s: %w", strings.Join(args[:min(len(args), 2)], " "), err))
	}
	return nil
}

// ctxErr reports a deadline instead of the connection error it caused.
func (r *SSHRunner) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
