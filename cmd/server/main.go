package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/driftchat/driftchat/pkg/bus"
	"github.com/driftchat/driftchat/pkg/server"
	"github.com/driftchat/driftchat/pkg/store"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.driftchat/config.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	natsURL := flag.String("nats", "", "NATS server URL for cross-process fan-out (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Handle --version flag
	if *version {
		fmt.Printf("Driftchat Server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *natsURL != "" {
		config.Server.NATSUrl = *natsURL
	}

	// Get database path with ~ expansion
	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}

	// Ensure directory exists
	dbDir := filepath.Dir(finalDBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	st, err := store.Open(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// Without a broker the relay still runs, fan-out just stays
	// within this process.
	var msgBus bus.Bus
	if config.Server.NATSUrl != "" {
		msgBus, err = bus.ConnectNATS(config.Server.NATSUrl)
		if err != nil {
			log.Fatalf("Failed to connect to NATS at %s: %v", config.Server.NATSUrl, err)
		}
		log.Printf("Broadcast bus: NATS (%s)", config.Server.NATSUrl)
	} else {
		msgBus = bus.NewMemoryBus()
		log.Printf("Broadcast bus: in-process (single node)")
	}

	srv := server.NewServer(st, msgBus, config.ToServerConfig())
	srv.SetMetrics(server.NewMetrics())

	// Enable debug logging if requested
	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s", *configPath)
	log.Printf("Database: %s", finalDBPath)

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Driftchat server %s started successfully", Version)
	log.Printf("WebSocket endpoint: ws://localhost:%d/ws", config.Server.HTTPPort)

	// pprof for profiling (localhost only)
	go func() {
		pprofAddr := "localhost:6060"
		log.Printf("pprof available at http://%s/debug/pprof/", pprofAddr)
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			log.Printf("pprof server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("Shutting down...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Printf("Server stopped")
}
