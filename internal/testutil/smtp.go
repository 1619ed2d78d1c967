package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ProbeBackend answers RCPT commands from a fixed table of reply codes.
// Unlisted recipients are accepted with 250.
type ProbeBackend struct {
	mu       sync.Mutex
	replies  map[string]int
	username string
	password string
	rcpts    []string
	helos    []string
	tlsRcpts int
}

func NewProbeBackend(replies map[string]int) *ProbeBackend {
	if replies == nil {
		replies = map[string]int{}
	}
	return &ProbeBackend{replies: replies}
}

// RequireAuth makes the backend advertise AUTH PLAIN with one valid login.
func (b *ProbeBackend) RequireAuth(username, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.username = username
	b.password = password
}

func (b *ProbeBackend) Recipients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rcpts...)
}

// Helos lists the HELO/EHLO names of every session opened so far.
func (b *ProbeBackend) Helos() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.helos...)
}

// TLSRecipients counts RCPT commands received over an encrypted connection.
func (b *ProbeBackend) TLSRecipients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tlsRcpts
}

func (b *ProbeBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	_, isTLS := c.TLSConnectionState()
	b.mu.Lock()
	b.helos = append(b.helos, c.Hostname())
	b.mu.Unlock()
	return &probeSession{backend: b, tls: isTLS}, nil
}

type probeSession struct {
	backend *ProbeBackend
	authed  bool
	tls     bool
}

func (s *probeSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *probeSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		if s.backend.username != "" && (username != s.backend.username || password != s.backend.password) {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *probeSession) Mail(from string, opts *smtp.MailOptions) error {
	s.backend.mu.Lock()
	required := s.backend.username != ""
	s.backend.mu.Unlock()
	if required && !s.authed {
		return &smtp.SMTPError{Code: 530, EnhancedCode: smtp.EnhancedCode{5, 7, 0}, Message: "Authentication required"}
	}
	return nil
}

func (s *probeSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	s.backend.rcpts = append(s.backend.rcpts, to)
	if s.tls {
		s.backend.tlsRcpts++
	}
	code, ok := s.backend.replies[to]
	s.backend.mu.Unlock()

	if !ok || code == 250 {
		return nil
	}
	return &smtp.SMTPError{Code: code, Message: "test reply"}
}

func (s *probeSession) Data(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (s *probeSession) Reset() {}

func (s *probeSession) Logout() error {
	return nil
}

// SMTPServer is an in-process server on a random loopback port.
type SMTPServer struct {
	Host    string
	Port    int
	Backend *ProbeBackend
	// RootCAs trusts the server certificate when STARTTLS is enabled.
	RootCAs *x509.CertPool
}

func NewSMTPServer(t *testing.T, be *ProbeBackend) *SMTPServer {
	t.Helper()
	return startSMTPServer(t, be, nil)
}

// NewStartTLSServer advertises STARTTLS with a self-signed certificate for
// 127.0.0.1.
func NewStartTLSServer(t *testing.T, be *ProbeBackend) *SMTPServer {
	t.Helper()

	cert, pool := selfSignedCert(t)
	srv := startSMTPServer(t, be, &tls.Config{Certificates: []tls.Certificate{cert}})
	srv.RootCAs = pool
	return srv
}

func startSMTPServer(t *testing.T, be *ProbeBackend, tlsConfig *tls.Config) *SMTPServer {
	t.Helper()

	s := smtp.NewServer(be)
	s.TLSConfig = tlsConfig
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 5 * time.Second
	s.WriteTimeout = 5 * time.Second

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go s.Serve(listener)
	t.Cleanup(func() { s.Close() })

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &SMTPServer{Host: host, Port: port, Backend: be}
}

func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// SilentServer accepts TCP connections and never speaks, for timeout tests.
func SilentServer(t *testing.T) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}
