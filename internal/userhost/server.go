package userhost

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// connTimeout bounds how long one connection may hold the single-threaded
// server, so a stalled client can never block the pool.
const connTimeout = 10 * time.Second

// Server answers account lease requests over a line protocol:
//
//	"get <seconds>" -> "okay <account>" or "error"
//	"put <account>" -> "okay"
//	anything else   -> "unknown action"
//
// It handles one connection fully before accepting the next, and carries no
// authentication: run it on a trusted network segment only.
type Server struct {
	pool     *Pool
	logger   zerolog.Logger
	listener net.Listener
}

func NewServer(pool *Pool, logger zerolog.Logger) *Server {
	return &Server{pool: pool, logger: logger}
}

// Listen binds the server socket. Addr returns the bound address afterward,
// which tests use with a ":0" listen address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind userhost server: %w", err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Int("accounts", s.pool.Size()).
		Msg("Userhost server listening")
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the accept loop until Close. Serving errors are swallowed and
// the connection closed; the server never crashes on malformed input.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read lease request")
		return
	}

	reply := s.handle(strings.TrimSpace(line))
	if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write lease reply")
	}
}

func (s *Server) handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		s.logger.Warn().Str("line", line).Msg("Malformed lease request")
		return "unknown action"
	}

	switch fields[0] {
	case "get":
		expires, err := strconv.Atoi(fields[1])
		if err != nil || expires <= 0 {
			s.logger.Warn().Str("arg", fields[1]).Msg("Bad lease duration")
			return "error"
		}
		user, ok := s.pool.Acquire(expires)
		if !ok {
			s.logger.Warn().Msg("Account pool exhausted")
			return "error"
		}
		s.logger.Info().Str("user", user).Int("expires", expires).Msg("Account leased")
		return "okay " + user
	case "put":
		s.pool.Release(fields[1])
		s.logger.Info().Str("user", fields[1]).Msg("Account released")
		return "okay"
	default:
		s.logger.Warn().Str("action", fields[0]).Msg("Unknown lease action")
		return "unknown action"
	}
}

// Close stops the accept loop.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
