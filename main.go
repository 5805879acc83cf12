package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docker/model-mem/pkg/hub"
	"github.com/docker/model-mem/pkg/inspector"
	"github.com/docker/model-mem/pkg/middleware"
	"github.com/docker/model-mem/pkg/routing"
	"github.com/docker/model-mem/pkg/server"
)

var log = logrus.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if os.Getenv("DEBUG") == "1" {
		log.SetLevel(logrus.DebugLevel)
	}

	sockName := os.Getenv("MODEL_MEM_SOCK")
	if sockName == "" {
		sockName = "model-mem.sock"
	}

	client, err := hub.NewClient(createHubOptionsFromEnv()...)
	if err != nil {
		log.Fatalf("unable to initialize Hub client: %v", err)
	}
	log.Infof("Hub endpoint: %s", client.Endpoint())

	statsServer := server.New(
		log.WithFields(logrus.Fields{"component": "server"}),
		inspector.New(client, inspector.WithLogger(log)),
	)

	router := routing.NewNormalizedServeMux(log.WithField("component", "router"))
	for _, route := range statsServer.GetRoutes() {
		router.Handle(route, statsServer)
	}

	httpServer := &http.Server{
		Handler:           middleware.CorsMiddleware(middleware.OriginsFromEnv(), router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)

	// Check if we should use TCP port instead of Unix socket
	tcpPort := os.Getenv("MODEL_MEM_PORT")
	if tcpPort != "" {
		addr := ":" + tcpPort
		log.Infof("Listening on TCP port %s", tcpPort)
		httpServer.Addr = addr
		go func() {
			serverErrors <- httpServer.ListenAndServe()
		}()
	} else {
		if err := os.Remove(sockName); err != nil {
			if !os.IsNotExist(err) {
				log.Fatalf("Failed to remove existing socket: %v", err)
			}
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockName, Net: "unix"})
		if err != nil {
			log.Fatalf("Failed to listen on socket: %v", err)
		}
		log.Infof("Listening on socket %s", sockName)
		go func() {
			serverErrors <- httpServer.Serve(ln)
		}()
	}

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("model-mem stopped")
}

// createHubOptionsFromEnv builds the Hub client options from HF_ENDPOINT,
// HF_TOKEN, HF_REVISION and MODEL_MEM_TIMEOUT.
func createHubOptionsFromEnv() []hub.Option {
	opts := []hub.Option{
		hub.WithLogger(log),
		hub.WithUserAgent("model-mem"),
	}

	if endpoint := os.Getenv("HF_ENDPOINT"); endpoint != "" {
		opts = append(opts, hub.WithEndpoint(endpoint))
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		opts = append(opts, hub.WithToken(token))
	}
	if revision := os.Getenv("HF_REVISION"); revision != "" {
		opts = append(opts, hub.WithRevision(revision))
	}

	if timeoutStr := os.Getenv("MODEL_MEM_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil || timeout <= 0 {
			log.Fatalf("MODEL_MEM_TIMEOUT must be a positive duration, got %q", timeoutStr)
		}
		log.Infof("Using request timeout: %s", timeout)
		opts = append(opts, hub.WithTimeout(timeout))
	}
	return opts
}
