// Package ssh holds the SSH client plumbing for chaining upstream
// connections through an SSH server: key loading from files or the SSH
// agent, known_hosts verification with trust on first use, and the client
// handshake.
//
// Example usage:
//
//	signers, _ := ssh.LoadSigners("agent")
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts", nil)
//
//	client, err := ssh.Handshake(conn, "ssh.example.com:22", ssh.ClientConfig{
//	    Username:        "user",
//	    Signers:         signers,
//	    HostKeyCallback: hostKeyCallback,
//	})
package ssh
