package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	protocol "github.com/BendDAO/bend-lending-protocol-sub001/config"
	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/observability/logging"
	telemetry "github.com/BendDAO/bend-lending-protocol-sub001/observability/otel"
	"github.com/BendDAO/bend-lending-protocol-sub001/services/lendingd/config"
	"github.com/BendDAO/bend-lending-protocol-sub001/services/lendingd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "lendingd.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BEND_ENV"))
	logger := logging.Setup(logging.Options{
		Service: "bendd",
		Env:     env,
		Level:   os.Getenv("BEND_LOG_LEVEL"),
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("bendd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	protocolCfg, err := protocol.Load(cfg.Protocol)
	if err != nil {
		log.Fatalf("load protocol config %s: %v", cfg.Protocol, err)
	}
	st, err := openState(protocolCfg, logger)
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer st.db.Close()

	opts := server.Options{
		Deployment: st.deployment,
		Store:      st.store,
		Auth:       cfg.Auth,
		RateLimit:  cfg.RateLimit,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: protocolCfg.Quota.MaxRequestsPerEpoch,
			MaxValuePerEpoch:    protocolCfg.Quota.MaxValuePerEpoch,
			EpochSeconds:        protocolCfg.Quota.EpochSeconds,
		},
		Logger: logger,
	}
	if cfg.Clock == config.ClockWall {
		opts.Clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	srv, err := server.New(opts)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext bendd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bendd listening", "addr", cfg.ListenAddress, "clock", cfg.Clock, "restored", st.restored)
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		// Reads stay public; write routes check the verified chain.
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsCfg, nil
}
