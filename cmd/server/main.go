/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the SupplyVault marketplace server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire services, hub and metrics into the API handler
  4. Start the outbox relay if Kafka brokers are configured
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: supplyvault.db)
            Use ":memory:" for an in-memory database
  -brokers  Comma-separated Kafka brokers for the change feed (optional)
  -topic    Kafka topic for change events (default: supplyvault.changes)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox relay and close the database

EXAMPLES:
  # Run with file database
  ./server -db="./data/supplyvault.db"

  # Run with the external change feed enabled
  ./server -brokers="localhost:9092"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - events/events.go: Outbox relay
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/venod/supplyvault/api"
	"github.com/venod/supplyvault/events"
	"github.com/venod/supplyvault/marketplace"
	"github.com/venod/supplyvault/metrics"
	_ "github.com/venod/supplyvault/roles" // registers the four resource kinds
	"github.com/venod/supplyvault/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "supplyvault.db", "SQLite database path")
	brokers := flag.String("brokers", "", "Kafka brokers for the change feed (comma-separated, empty disables)")
	topic := flag.String("topic", "supplyvault.changes", "Kafka topic for change events")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the API
	hub := marketplace.NewHub()
	serverMetrics := metrics.NewServerMetrics(nil)
	handler := api.NewHandler(store, hub, serverMetrics)
	router := api.NewRouter(handler)

	// Start the external change feed when brokers are configured
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	feed := events.NewClient(*brokers)
	if feed.Enabled() {
		writer := feed.NewWriter(*topic)
		defer writer.Close()
		go events.NewRelay(store, writer).Run(relayCtx)
		log.Printf("📡 Change feed relaying to topic %q", *topic)
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	stopRelay()

	log.Println("Server stopped")
}
