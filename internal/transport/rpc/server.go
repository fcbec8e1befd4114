// Package rpc exposes the group push over JSON-RPC for internal clients.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

// Server exposes relay RPC endpoints.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	stopped   bool
	rpcServer *rpc.Server
	log       *log.Logger
	done      chan struct{}
}

// NewServer creates a new relay RPC server.
func NewServer(h *hub.Hub, logger *log.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{hub: h, log: logger}
	if err := rpcServer.RegisterName("Relay", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		log:       logger,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds addr. Call Serve to accept connections. It fails with
// net.ErrClosed after Shutdown.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return net.ErrClosed
	}
	if s.listener != nil {
		return errors.New("rpc server already listening")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown closes the listener.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rpc server is not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn("rpc accept error", "err", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements relay RPC methods.
type Handler struct {
	hub *hub.Hub
	log *log.Logger
}

// PushRequest carries a message for every connection of a chat.
type PushRequest struct {
	ChatID  string          `json:"chat_id"`
	Message json.RawMessage `json:"message"`
}

// PushResponse reports whether any connection was bound to the chat.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// Push forwards a message to the chat's connections.
func (h *Handler) Push(req *PushRequest, resp *PushResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if len(req.Message) == 0 || string(req.Message) == "null" {
		return errors.New("message is required")
	}

	delivered := h.hub.HasActiveConnections(req.ChatID)
	if err := h.hub.BroadcastJSON(req.ChatID, protocol.PushFrame{Message: req.Message}); err != nil {
		return err
	}

	h.log.Debug("message pushed", "chat_id", req.ChatID, "delivered", delivered)

	if resp != nil {
		resp.OK = true
		resp.Delivered = delivered
	}
	return nil
}
