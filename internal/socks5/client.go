package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrAuthFailed is returned when the server rejects the credentials or
	// demands credentials that were not configured.
	ErrAuthFailed = errors.New("socks5: authentication failed")

	// ErrConnectRejected is returned when the server answers CONNECT with a
	// non-success reply.
	ErrConnectRejected = errors.New("socks5: connect rejected")
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// ClientDial negotiates with the SOCKS5 server on conn and asks it to
// CONNECT to address. On success conn carries the tunnel. The caller owns
// conn either way and is responsible for deadlines.
func ClientDial(conn net.Conn, auth Auth, address string) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	return ClientConnect(conn, address)
}

// ClientNegotiate runs method negotiation, offering username/password only
// when auth has a username.
func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fmt.Errorf("%w: server requires username/password", ErrAuthFailed)
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("socks5: write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("socks5: read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
		return nil
	default:
		return fmt.Errorf("socks5: unsupported negotiation method: %d", neg.Method)
	}
}

// ClientConnect sends a CONNECT request for address (host:port, where host
// may be a name or an IP) and reads the reply.
func ClientConnect(conn net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5: parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		// ParseAddress prefixes domains with their length, which NewRequest
		// adds again.
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("%w: reply code %d", ErrConnectRejected, rep.Rep)
	}
	return nil
}
