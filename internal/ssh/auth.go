package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAuthType is the --ssh-key value that selects the SSH agent.
const AgentAuthType = "agent"

// ErrNoAgent is returned when the agent is selected but SSH_AUTH_SOCK is
// unset.
var ErrNoAgent = errors.New("SSH_AUTH_SOCK not set")

// AgentAvailable reports whether an SSH agent socket is advertised.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// LoadSigners returns the signers for keySource:
//   - "": none, so only password authentication is offered
//   - "agent": every key held by the SSH agent
//   - anything else: the OpenSSH private key file at that path
func LoadSigners(keySource string) ([]ssh.Signer, error) {
	switch keySource {
	case "":
		return nil, nil
	case AgentAuthType:
		return agentSigners()
	default:
		signer, err := loadPrivateKey(keySource)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{signer}, nil
	}
}

// agentSigners connects to the SSH agent. The agent connection stays open
// for the life of the process since the signers use it for every
// signature.
func agentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, ErrNoAgent
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("getting signers from SSH agent: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("no keys available in SSH agent")
	}

	return signers, nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}

	return signer, nil
}
