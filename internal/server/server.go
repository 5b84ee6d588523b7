// Copyright 2025 Tetrate
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"
	"google.golang.org/grpc"

	"github.com/istio-ecosystem/gateway-helper/internal"
)

type RegisterGrpc interface {
	// Register a gRPC handler in the given server.
	Register(s *grpc.Server)
}

var (
	_ run.Initializer = (*Server)(nil)
	_ run.PreRunner   = (*Server)(nil)
	_ run.Service     = (*Server)(nil)
)

var ErrInvalidAddress = errors.New("invalid address")

// Server is the gRPC server the ext_authz filter is registered in.
type Server struct {
	log  telemetry.Logger
	cfg  *internal.Config
	addr string

	server           *grpc.Server
	registerHandlers []func(s *grpc.Server)

	// Listen allows overriding the default listener. It is meant to
	// be used in tests.
	Listen func() (net.Listener, error)
}

func New(cfg *internal.Config, registerHandlers ...func(s *grpc.Server)) *Server {
	return &Server{
		log:              internal.Logger(internal.Server),
		cfg:              cfg,
		registerHandlers: registerHandlers,
	}
}

func (s *Server) Name() string { return "gRPC Server" }

func (s *Server) Initialize() {
	if s.Listen == nil {
		s.Listen = func() (net.Listener, error) {
			return net.Listen("tcp", s.addr)
		}
	}
}

func (s *Server) PreRun() error {
	s.addr = s.cfg.GetGRPCListenAddress()
	if _, _, err := net.SplitHostPort(s.addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	logMiddleware := NewLogMiddleware()

	// Initialize the gRPC server
	// TODO: expose TLS settings for the ext_authz listener
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(PropagateRequestID, logMiddleware.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(logMiddleware.StreamServerInterceptor),
	)

	for _, h := range s.registerHandlers {
		h(s.server)
	}

	return nil
}

func (s *Server) Serve() error {
	l, err := s.Listen()
	if err != nil {
		return err
	}
	s.log.Info("starting gRPC server", "addr", s.addr)
	return s.server.Serve(l)
}

func (s *Server) GracefulStop() {
	s.log.Info("stopping gRPC server")
	if s.server != nil {
		s.server.GracefulStop()
	}
}
