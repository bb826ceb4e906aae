package command

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/wardline/wardline/internal/logging"
	wardtls "github.com/wardline/wardline/internal/tls"
	"github.com/wardline/wardline/internal/wire"
)

// Server is the TCP administration listener. One goroutine accepts
// connections, one more goroutine per connection, grounded on
// internal/toolbox/orca/server.go's accept-loop-plus-per-connection
// shape, with the unix socket swapped for a reusable TCP listener.
type Server struct {
	addr           string
	registry       *Registry
	ctx            *CommandContext
	certs          *wardtls.CertificateManager
	cipher         *wire.Cipher
	allowPlaintext bool
	log            *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Server bound to addr (host:port, default port 53860)
// that dispatches against registry using ctx. cert and cipher are used
// for non-loopback connections unless allowPlaintext forces the
// plaintext line protocol for every peer. cert may be nil; the server
// then refuses non-loopback connections until SetCertificate is called.
func New(addr string, registry *Registry, ctx *CommandContext, cert *tls.Certificate, cipher *wire.Cipher, allowPlaintext bool) *Server {
	certs := wardtls.NewCertificateManager()
	if cert != nil {
		certs.SetDefaultCertificate(cert)
	}
	return &Server{
		addr:           addr,
		registry:       registry,
		ctx:            ctx,
		certs:          certs,
		cipher:         cipher,
		allowPlaintext: allowPlaintext,
		log:            logging.WithComponent("command-server"),
	}
}

// SetCertificate replaces the certificate served to new connections,
// e.g. after a renewal. In-flight connections are unaffected; the next
// TLS handshake picks it up via tls.Config.GetCertificate.
func (s *Server) SetCertificate(cert *tls.Certificate) {
	s.certs.SetDefaultCertificate(cert)
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket so a
// daemon restart does not have to wait out TIME_WAIT on the old
// listener, mirrored from the teacher's mDNS socket setup.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Run binds the listener and serves connections until ctx is
// cancelled. It blocks until the accept loop exits.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("command server: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("command server listening", "addr", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("command server: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// isLoopback reports whether addr (a net.Addr from a connection) is a
// loopback peer.
func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	// Closing the connection on cancellation unblocks a read parked in
	// the loop below (and an in-flight TLS handshake), so Run's wait
	// for open connections ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := conn.RemoteAddr()
	plaintext := s.allowPlaintext || isLoopback(peer)
	if !plaintext {
		if _, err := s.certs.GetCertificate(nil); err != nil {
			s.log.Warn("command server: refusing non-loopback connection, no certificate provisioned", "peer", peer)
			return
		}
	}
	encrypted := !plaintext
	if encrypted {
		tlsConn := tls.Server(conn, &tls.Config{
			GetCertificate: s.certs.GetCertificate,
			MinVersion:     tls.VersionTLS13,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.log.Warn("command server: TLS handshake failed", "peer", peer, "err", err)
			return
		}
		conn = tlsConn
	}

	logging.CommandLog("info", "connection from %s (encrypted=%v)", peer, encrypted)

	connCtx := *s.ctx
	connCtx.PeerAddr = peer.String()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if encrypted && s.cipher != nil {
			plain, decErr := s.cipher.Decrypt(line)
			if decErr != nil {
				s.log.Warn("command server: decrypt failed", "peer", peer, "err", decErr)
				return
			}
			line = plain
		}

		response := s.registry.Dispatch(line, &connCtx)
		if response == "" {
			if err != nil {
				return
			}
			continue
		}
		if !strings.HasSuffix(response, "\n") {
			response += "\n"
		}

		out := response
		if encrypted && s.cipher != nil {
			enc, encErr := s.cipher.Encrypt(response)
			if encErr != nil {
				s.log.Warn("command server: encrypt failed", "peer", peer, "err", encErr)
				return
			}
			out = enc + "\n"
		}

		if _, writeErr := conn.Write([]byte(out)); writeErr != nil {
			return
		}
		if err != nil {
			return
		}
	}
}

// Addr returns the address the listener is bound to, or "" if Run has
// not been called yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
