package dialer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txthinking/socks5"

	internalsocks5 "github.com/die-net/portcullis/internal/socks5"
	"github.com/die-net/portcullis/internal/testutil"
)

// fakeSOCKS5 plays a single-connection SOCKS5 server. A zero reply relays
// to the requested target; anything else is sent as the CONNECT reply.
type fakeSOCKS5 struct {
	user, pass string
	reply      byte
}

func (s fakeSOCKS5) serve(ctx context.Context, c net.Conn) {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return
	}

	if s.user == "" {
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return
		}
	} else {
		if _, err := socks5.NewNegotiationReply(socks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return
		}
		up, err := socks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return
		}
		status := socks5.UserPassStatusSuccess
		if string(up.Uname) != s.user || string(up.Passwd) != s.pass {
			status = socks5.UserPassStatusFailure
		}
		if _, err := socks5.NewUserPassNegotiationReply(status).WriteTo(c); err != nil || status != socks5.UserPassStatusSuccess {
			return
		}
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return
	}

	rep := s.reply
	if req.Cmd != socks5.CmdConnect {
		rep = socks5.RepCommandNotSupported
	}
	var dst net.Conn
	if rep == socks5.RepSuccess {
		nd := net.Dialer{}
		if dst, err = nd.DialContext(ctx, "tcp", req.Address()); err != nil {
			rep = socks5.RepHostUnreachable
		}
	}
	if rep != socks5.RepSuccess {
		_, _ = socks5.NewReply(rep, socks5.ATYPIPv4, net.IPv4zero.To4(), []byte{0, 0}).WriteTo(c)
		return
	}
	defer dst.Close()

	atyp, addr, port, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, atyp, addr, port).WriteTo(c); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(c, dst)
	}()
	_, _ = io.Copy(dst, c)
	_ = dst.Close()
	<-done
}

func TestSOCKS5ProxyDialer(t *testing.T) {
	tests := []struct {
		name       string
		server     fakeSOCKS5
		user, pass string
		wantErr    error
	}{
		{name: "no_auth", server: fakeSOCKS5{}},
		{name: "user_pass", server: fakeSOCKS5{user: "user", pass: "pass"}, user: "user", pass: "pass"},
		{name: "bad_password", server: fakeSOCKS5{user: "user", pass: "pass"}, user: "user", pass: "nope", wantErr: internalsocks5.ErrAuthFailed},
		{name: "refused", server: fakeSOCKS5{reply: socks5.RepConnectionRefused}, wantErr: internalsocks5.ErrConnectRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				tt.server.serve(ctx, c)
			})

			d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)
			conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				waitUp()
				return
			}
			require.NoError(t, err)

			testutil.AssertEcho(t, conn, conn, []byte("through socks"))
			_ = conn.Close()
			waitUp()
		})
	}
}

func TestSOCKS5ProxyDialerCanceledDuringHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan struct{})
	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		close(accepted)
		// Never answer the greeting.
		_, _ = io.Copy(io.Discard, c)
	})

	go func() {
		<-accepted
		cancel()
	}()

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	start := time.Now()
	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	waitUp()
}

func TestSOCKS5ProxyDialerUnsupportedNetwork(t *testing.T) {
	d := NewSOCKS5ProxyDialer(Config{}, "127.0.0.1:1", "", "")
	_, err := d.DialContext(context.Background(), "udp", "127.0.0.1:53")
	assert.Error(t, err)
}
