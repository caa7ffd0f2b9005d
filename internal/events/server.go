package events

import (
	"bufio"
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"mangashelf/pkg/logging"
)

// Server accepts TCP subscribers for a Hub.
type Server struct {
	Addr string
	Hub  *Hub
	Log  *zap.Logger
}

func NewServer(addr string, hub *Hub, log *zap.Logger) *Server {
	return &Server{Addr: addr, Hub: hub, Log: logging.OrNop(log)}
}

// Run listens on Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Log.Info("tcp events listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Log.Warn("tcp accept", zap.Error(err))
			continue
		}

		s.Hub.Add(conn)
		s.Hub.Welcome(conn)
		s.Log.Info("tcp client connected", zap.String("remote", conn.RemoteAddr().String()))

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.Log.Info("tcp client disconnected", zap.String("remote", c.RemoteAddr().String()))
			}()

			// incoming lines are ignored
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
