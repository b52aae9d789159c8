package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHServer is a minimal SSH server that accepts password logins and
// serves "direct-tcpip" channels, like ssh -D expects.
type SSHServer struct {
	net.Listener
	HostKey ssh.Signer

	conns atomic.Int64
}

// Connections returns how many SSH transports have been accepted.
func (s *SSHServer) Connections() int {
	return int(s.conns.Load())
}

type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// NewSSHSigner returns a fresh ed25519 signer.
func NewSSHSigner(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// StartSSHServer starts an SSHServer on loopback that accepts username and
// password. It stops when ctx is done or the test ends.
func StartSSHServer(t *testing.T, ctx context.Context, username, password string) *SSHServer {
	t.Helper()

	hostKey := NewSSHSigner(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != username || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(hostKey)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	s := &SSHServer{Listener: ln, HostKey: hostKey}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns.Add(1)
			go s.serveConn(ctx, c, cfg)
		}
	}()

	return s
}

func (s *SSHServer) serveConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	_, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}

		var p directTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err != nil {
			_ = newChan.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		d := net.Dialer{}
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))))
		if err != nil {
			_ = newChan.Reject(ssh.ConnectionFailed, "dial failed")
			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		go func() {
			defer ch.Close()
			defer dst.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				_, err := io.Copy(dst, ch)
				_ = dst.Close()
				return err
			})
			g.Go(func() error {
				_, err := io.Copy(ch, dst)
				_ = ch.CloseWrite()
				return err
			})
			_ = g.Wait()
		}()
	}
}
