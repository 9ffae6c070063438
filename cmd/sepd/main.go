package main

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	pb "github.com/glinharesb/sep-go/api/sepv1"
	"github.com/glinharesb/sep-go/internal/audit"
	"github.com/glinharesb/sep-go/internal/config"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/interceptor"
	"github.com/glinharesb/sep-go/internal/server"
)

var configPaths = []string{".", "/etc/sep"}

func main() {
	cfg, err := config.Load(configPaths)
	if err != nil {
		_, _ = os.Stderr.WriteString("sepd: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		_, _ = os.Stderr.WriteString("sepd: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("sepd", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	auditOut, closeAudit, err := openAuditOutput(cfg.Audit.File)
	if err != nil {
		return err
	}
	defer closeAudit()

	auditLogger := audit.NewLogger(cfg.Audit.Buffer, auditOut, logger.Named("audit"))
	defer func() {
		auditLogger.Close()
		logger.Info("audit summary", zap.Any("calls", auditLogger.Summary()))
	}()

	provider, err := hsm.Open(cfg.Backend.BackendOptions(logger.Named("hsm")))
	if err != nil {
		return err
	}
	logger.Info("secure hardware module ready", zap.String("backend", cfg.Backend.Kind))

	// The gRPC server records every call in auditLogger with the caller's address.
	e := enclave.New(provider, enclave.WithLogger(logger.Named("enclave")))

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptor.RecoveryUnary(logger),
			interceptor.LoggingUnary(logger),
			interceptor.RateLimitUnary(cfg.Server.RateLimitRPS),
			interceptor.AuthUnary(cfg.Server.AuthToken),
		),
		grpc.ChainStreamInterceptor(
			interceptor.RecoveryStream(logger),
			interceptor.LoggingStream(logger),
			interceptor.RateLimitStream(cfg.Server.RateLimitRPS),
			interceptor.AuthStream(cfg.Server.AuthToken),
		),
	}
	if cfg.Server.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}
	if cfg.Server.AuthToken == "" {
		logger.Warn("bearer token authentication disabled")
	}

	srv := grpc.NewServer(opts...)
	pb.RegisterEnclaveServiceServer(srv, server.NewEnclaveServer(e, server.NewAuditServer(auditLogger)))
	reflection.Register(srv)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.Serve(lis); err != nil {
			logger.Error("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown with 10s timeout
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("graceful shutdown timed out, forcing stop")
		srv.Stop()
	}
	return nil
}

func openAuditOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
