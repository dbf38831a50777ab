package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/shaunagostinho/gnssd/internal/gps"
	"github.com/shaunagostinho/gnssd/internal/publish"
	"github.com/shaunagostinho/gnssd/internal/server"
	"github.com/shaunagostinho/gnssd/web"
)

func main() {
	configPath := flag.String("config", "/etc/gnssd/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated GPS data")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] gnssd starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.GPS.Driver = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			log.Printf("[config] %v", e)
		}
		log.Fatal("[main] invalid configuration")
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	session := server.NewSession(cfg, func() (gps.Transport, error) {
		return gps.NewTransport(cfg.Transport())
	})

	var sinks []gps.Handler
	if cfg.MQTT.Enabled {
		pub, err := publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			RawNMEA:     cfg.MQTT.RawNMEA,
		})
		if err != nil {
			log.Printf("[main] mqtt disabled: %v", err)
		} else {
			sinks = append(sinks, pub)
			defer pub.Close()
		}
	}

	srv := server.New(cfg, session, web.FS, sinks...)
	session.SetCallback(srv)

	// Start the receiver in the background; the server comes up regardless
	var wg sync.WaitGroup
	if cfg.Server.Autostart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startWithRetry(ctx, session, 10)
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
	cancel()
	wg.Wait()
	session.Close()
	srv.Close()
}

// starter is satisfied by server.Session.
type starter interface {
	Start() error
}

// startWithRetry attempts to start with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func startWithRetry(ctx context.Context, s starter, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.Start(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[gps] start attempt %d/%d failed: %v (retry in %v)",
					attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[gps] start attempt %d failed: %v (retry in %v)",
					attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[gps] started successfully (attempt %d)", attempt+1)
			return
		}
	}
}
