package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal controller VM stand-in: it answers a handful of
// exec commands and serves SFTP from the local filesystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	signer, err := generateTestSigner()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "nutanix" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()

	t.Cleanup(server.close)
	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func exitStatus(code uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, code)
	return b
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:])
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

			switch command {
			case "true":
				_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
			case "echo test":
				_, _ = channel.Write([]byte("test\n"))
				_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
			case "echo error >&2":
				_, _ = channel.Stderr().Write([]byte("error\n"))
				_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
			case "exit 1":
				_, _ = channel.Stderr().Write([]byte("vm not found\n"))
				_, _ = channel.SendRequest("exit-status", false, exitStatus(1))
			case "sleep 10":
				// Block until the client signals or goes away.
				continue
			default:
				_, _ = channel.Write([]byte("command: " + command + "\n"))
				_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
			}
			return

		case "signal":
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		_ = s.listener.Close()
	}
}

// client returns a connected client for the server with password auth.
func (s *testSSHServer) client(t *testing.T) *SSHClient {
	t.Helper()

	host, port := parseAddress(s.addr)
	config := DefaultConfig(host, "nutanix")
	config.Port = port
	config.Password = "testpass"
	config.ConnectionTimeout = 5 * time.Second

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect() })

	return client
}

func generateTestSigner() (ssh.Signer, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(privKey)
}

func TestSSHClientConnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := server.client(t)

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	host, _ := parseAddress(server.addr)
	info := client.GetConnectionInfo()
	if info.Host != host {
		t.Errorf("expected host '%s', got '%s'", host, info.Host)
	}
	if info.User != "nutanix" {
		t.Errorf("expected user 'nutanix', got '%s'", info.User)
	}
	if info.ConnectedAt.IsZero() {
		t.Error("expected connected timestamp to be set")
	}

	// A second Connect on a live connection is a no-op.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("reconnect on live connection failed: %v", err)
	}
}

func TestSSHClientConnectBadPassword(t *testing.T) {
	server := newTestSSHServer(t)

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "nutanix")
	config.Port = port
	config.Password = "wrong"

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected authentication failure")
	}

	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "connect" {
		t.Errorf("expected connect TransportError, got %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to stay disconnected")
	}
}

func TestSSHClientHealthCheck(t *testing.T) {
	server := newTestSSHServer(t)
	client := server.client(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}

func TestSSHClientDisconnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := server.client(t)

	if err := client.Disconnect(); err != nil {
		t.Errorf("disconnect failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail after disconnect")
	}

	if _, err := client.ExecuteCommand(context.Background(), "true"); err == nil {
		t.Error("expected execute to fail after disconnect")
	}
}

func TestSSHClientKeyBasedAuth(t *testing.T) {
	server := newTestSSHServer(t)
	host, port := parseAddress(server.addr)

	config := DefaultConfig(host, "nutanix")
	config.Port = port
	config.AuthMethod = AuthMethodKey
	config.PrivateKeyPath = writeTestPrivateKey(t)

	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with key auth: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

// parseAddress splits an address into host and port.
func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
