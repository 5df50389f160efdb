// storefeed-service tails reservation events off kafka and records
// them into the back-of-house feed the store staff screens read.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/donutshop-go/pkg/contracts"
	"github.com/nazeru/donutshop-go/pkg/kafka"
	"github.com/nazeru/donutshop-go/pkg/logging"
	"github.com/nazeru/donutshop-go/pkg/metrics"
)

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatalf("schema error: %v", err)
	}

	srvMetrics := metrics.NewServerMetrics("storefeed_service")

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		go consumeEvents(pool, kafkaClient, cfg)
	} else {
		log.Print("KAFKA_BROKERS is empty, feed consumer disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", http.StatusServiceUnavailable, start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, start)
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("storefeed-service listening on :%s", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	return cfg{
		Port:         getenv("PORT", "8081"),
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		Topic:        getenv("KAFKA_TOPIC", "donutshop.reservations"),
		GroupID:      getenv("KAFKA_GROUP_ID", "storefeed-service"),
	}, nil
}

func consumeEvents(pool *pgxpool.Pool, client *kafka.Client, cfg cfg) {
	reader := client.NewReader(cfg.Topic, cfg.GroupID)
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("kafka read error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		var evt contracts.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("event decode error: %v", err)
			continue
		}
		if evt.EventID == "" {
			continue
		}
		if err := appendFeed(context.Background(), pool, evt); err != nil {
			log.Printf("feed append error: %v", err)
			continue
		}
		logging.Log(logging.Fields{Service: "storefeed-service", ReservationID: evt.ReservationID, StoreID: evt.StoreID, EventID: evt.EventID, Step: evt.Type, Status: "recorded"})
	}
}

// appendFeed deduplicates via the inbox table before writing the feed
// row so a redelivered event is recorded once.
func appendFeed(ctx context.Context, pool *pgxpool.Pool, evt contracts.Event) error {
	_, err := pool.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, evt.EventID)
	if err != nil {
		return err
	}

	data, _ := json.Marshal(evt.Payload)
	_, err = pool.Exec(ctx, `INSERT INTO store_feed(event_id, reservation_id, store_id, type, payload)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (event_id) DO NOTHING`,
		evt.EventID, evt.ReservationID, evt.StoreID, evt.Type, string(data))
	return err
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inbox (
			event_id TEXT PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS store_feed (
			event_id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			store_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
