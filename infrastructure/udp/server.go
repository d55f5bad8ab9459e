// Package udp is the datagram transport of the relay: one socket serves both
// inbound requests and every outbound response.
package udp

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/protocol"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

var _ contract.Sender = (*Server)(nil)

type Server struct {
	log             *slog.Logger
	conn            *net.UDPConn
	maxDatagramSize int
}

// Listen binds the relay socket on address ("host:port").
func Listen(log *slog.Logger, address string, maxDatagramSize int) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return &Server{log: log, conn: conn, maxDatagramSize: maxDatagramSize}, nil
}

func (s *Server) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Send writes one terminated line to the given address.
// It is safe for concurrent use: each call is a single datagram write.
func (s *Server) Send(to netip.AddrPort, line string) error {
	if _, err := s.conn.WriteToUDPAddrPort(protocol.Terminate(line), to); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Serve receives datagrams and submits each one to the worker pool until ctx
// is canceled. It never blocks on request handling.
func (s *Server) Serve(ctx context.Context, submitter contract.Submitter) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	s.log.Info("Relay listening", "address", s.LocalAddr())
	buf := make([]byte, s.maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("Relay socket closed")
				return nil
			}
			s.log.Warn("Receive failed", "error", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		submitter.Submit(domain.Datagram{
			From:       netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}
}

func (s *Server) Close() error {
	return s.conn.Close()
}
