package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/donutshop-go/internal/catalog"
	"github.com/nazeru/donutshop-go/pkg/contracts"
	"github.com/nazeru/donutshop-go/pkg/idempotency"
	"github.com/nazeru/donutshop-go/pkg/kafka"
	"github.com/nazeru/donutshop-go/pkg/logging"
	"github.com/nazeru/donutshop-go/pkg/metrics"
	"github.com/nazeru/donutshop-go/pkg/outbox"
)

var errIdempotencyRace = errors.New("idempotency race")

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	KafkaTopic   string
	OutboxPoll   time.Duration
	SeedCatalog  bool
	FailItems    bool // failpoint: reject every item write
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	pollMS, _ := strconv.Atoi(getenv("OUTBOX_POLL_MS", "500"))
	return cfg{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		KafkaTopic:   getenv("KAFKA_TOPIC", "donutshop.reservations"),
		OutboxPoll:   time.Duration(pollMS) * time.Millisecond,
		SeedCatalog:  isTrue(getenv("SEED_CATALOG", "false")),
		FailItems:    isTrue(getenv("FAIL_ITEMS", "false")),
	}, nil
}

type reservationRequest struct {
	StoreID       string    `json:"store_id"`
	PickupAt      time.Time `json:"pickup_at"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	TotalCents    int64     `json:"total_cents"`
}

type reservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

type itemRow struct {
	ReservationID  string          `json:"reservation_id"`
	ProductID      string          `json:"product_id"`
	Kind           string          `json:"kind"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	Variant        string          `json:"variant"`
	BoxPayload     json.RawMessage `json:"box_payload"`
}

type itemsRequest struct {
	Items []itemRow `json:"items"`
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

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatalf("schema error: %v", err)
	}
	if cfg.SeedCatalog {
		if err := seedCatalog(ctx, pool); err != nil {
			log.Fatalf("seed error: %v", err)
		}
	}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		go relayOutbox(pool, kafkaClient, cfg)
	}

	srvMetrics := metrics.NewServerMetrics("reservation_service")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/products", instrument(srvMetrics, "products", func(w http.ResponseWriter, r *http.Request) int {
		return handleProducts(pool, w, r)
	}))
	mux.HandleFunc("/stores", instrument(srvMetrics, "stores", func(w http.ResponseWriter, r *http.Request) int {
		return handleStores(pool, w, r)
	}))
	mux.HandleFunc("/reservations", instrument(srvMetrics, "reservations", func(w http.ResponseWriter, r *http.Request) int {
		return handleCreateReservation(pool, cfg, w, r)
	}))
	mux.HandleFunc("/reservation-items", instrument(srvMetrics, "reservation_items", func(w http.ResponseWriter, r *http.Request) int {
		return handleCreateItems(pool, cfg, w, r)
	}))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("reservation-service listening on :%s (kafka=%v, fail_items=%v)", cfg.Port, kafkaClient.Enabled(), cfg.FailItems)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

// instrument wraps a handler that returns the response status code and
// records request count + latency.
func instrument(m *metrics.ServerMetrics, name string, fn func(http.ResponseWriter, *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := fn(w, r)
		m.Observe(name, status, start)
	}
}

func handleProducts(pool *pgxpool.Pool, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return http.StatusMethodNotAllowed
	}
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))

	query := `SELECT id, kind, name, price_cents, image_url, variants, box_capacity FROM products`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind=$1`
		args = append(args, kind)
	}
	query += ` ORDER BY name`

	rows, err := pool.Query(r.Context(), query, args...)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}
	defer rows.Close()

	products := []catalog.Product{}
	for rows.Next() {
		var p catalog.Product
		var imageURL *string
		if err := rows.Scan(&p.ID, &p.Kind, &p.Name, &p.PriceCents, &imageURL, &p.Variants, &p.BoxCapacity); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return http.StatusInternalServerError
		}
		if imageURL != nil {
			p.ImageURL = *imageURL
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}
	writeJSON(w, http.StatusOK, products)
	return http.StatusOK
}

func handleStores(pool *pgxpool.Pool, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return http.StatusMethodNotAllowed
	}
	city := strings.TrimSpace(r.URL.Query().Get("city"))

	query := `SELECT id, name, address, phone, city FROM stores`
	args := []any{}
	if city != "" {
		query += ` WHERE city=$1`
		args = append(args, city)
	}
	query += ` ORDER BY name`

	rows, err := pool.Query(r.Context(), query, args...)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}
	defer rows.Close()

	stores := []catalog.Store{}
	for rows.Next() {
		var s catalog.Store
		var phone *string
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &phone, &s.City); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return http.StatusInternalServerError
		}
		if phone != nil {
			s.Phone = *phone
		}
		stores = append(stores, s)
	}
	if err := rows.Err(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}
	writeJSON(w, http.StatusOK, stores)
	return http.StatusOK
}

func handleCreateReservation(pool *pgxpool.Pool, cfg cfg, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return http.StatusMethodNotAllowed
	}
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return http.StatusBadRequest
	}
	if strings.TrimSpace(req.StoreID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "store_id is required"})
		return http.StatusBadRequest
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "customer_name is required"})
		return http.StatusBadRequest
	}
	if req.PickupAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "pickup_at is required"})
		return http.StatusBadRequest
	}
	if req.TotalCents < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "total_cents must be >= 0"})
		return http.StatusBadRequest
	}

	idemKey := idempotency.Key(r)
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Повтор по идемпотентному ключу: вернём существующую бронь.
	if idemKey != "" {
		if existing, err := reservationByIdempotency(ctx, pool, idemKey); err == nil && existing != "" {
			writeJSON(w, http.StatusOK, reservationResponse{ReservationID: existing, Status: "IDEMPOTENT_REPLAY"})
			return http.StatusOK
		}
	}

	reservationID := uuid.NewString()
	if err := createReservation(ctx, pool, reservationID, idemKey, req, cfg); err != nil {
		if errors.Is(err, errIdempotencyRace) && idemKey != "" {
			if existing, qerr := reservationByIdempotency(ctx, pool, idemKey); qerr == nil && existing != "" {
				writeJSON(w, http.StatusOK, reservationResponse{ReservationID: existing, Status: "IDEMPOTENT_REPLAY"})
				return http.StatusOK
			}
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}

	logging.Log(logging.Fields{Service: "reservation-service", ReservationID: reservationID, StoreID: req.StoreID, Step: "create_reservation", Status: "pending"})
	writeJSON(w, http.StatusOK, reservationResponse{ReservationID: reservationID, Status: "pending"})
	return http.StatusOK
}

func createReservation(ctx context.Context, pool *pgxpool.Pool, reservationID, idemKey string, req reservationRequest, cfg cfg) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO reservations(id, store_id, pickup_at, customer_name, customer_phone, total_cents, status)
		 VALUES($1, $2, $3, $4, $5, $6, 'pending')`,
		reservationID, req.StoreID, req.PickupAt.UTC(), strings.TrimSpace(req.CustomerName), nullable(req.CustomerPhone), req.TotalCents,
	)
	if err != nil {
		return err
	}

	if idemKey != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO reservation_idempotency(idempotency_key, reservation_id) VALUES($1, $2)`,
			idemKey, reservationID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errIdempotencyRace
			}
			return err
		}
	}

	event := contracts.Event{
		EventID:       uuid.NewString(),
		ReservationID: reservationID,
		StoreID:       req.StoreID,
		CreatedAt:     time.Now().UTC(),
		Type:          contracts.EventReservationCreated,
		Payload: map[string]any{
			"pickup_at":   req.PickupAt.UTC().Format(time.RFC3339),
			"total_cents": req.TotalCents,
		},
	}
	if err := outbox.InsertTx(ctx, tx, event.EventID, cfg.KafkaTopic, reservationID, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func handleCreateItems(pool *pgxpool.Pool, cfg cfg, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return http.StatusMethodNotAllowed
	}
	var req itemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return http.StatusBadRequest
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "items is required"})
		return http.StatusBadRequest
	}
	reservationID := strings.TrimSpace(req.Items[0].ReservationID)
	if reservationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "reservation_id is required"})
		return http.StatusBadRequest
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ReservationID) != reservationID {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "all items must reference one reservation"})
			return http.StatusBadRequest
		}
		if strings.TrimSpace(it.ProductID) == "" || it.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "each item must have product_id and quantity > 0"})
			return http.StatusBadRequest
		}
	}

	if cfg.FailItems {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "items failpoint enabled"})
		return http.StatusInternalServerError
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := createItems(ctx, pool, reservationID, req.Items, cfg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}

	logging.Log(logging.Fields{Service: "reservation-service", ReservationID: reservationID, Step: "create_items", Status: "inserted", Message: strconv.Itoa(len(req.Items)) + " items"})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "count": len(req.Items)})
	return http.StatusCreated
}

func createItems(ctx context.Context, pool *pgxpool.Pool, reservationID string, items []itemRow, cfg cfg) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		_, err = tx.Exec(ctx,
			`INSERT INTO reservation_items(id, reservation_id, product_id, kind, name, quantity, unit_price_cents, variant, box_payload)
			 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.NewString(), reservationID, it.ProductID, it.Kind, it.Name, it.Quantity, it.UnitPriceCents, nullable(it.Variant), nullableJSON(it.BoxPayload),
		)
		if err != nil {
			return err
		}
	}

	event := contracts.Event{
		EventID:       uuid.NewString(),
		ReservationID: reservationID,
		CreatedAt:     time.Now().UTC(),
		Type:          contracts.EventReservationItemsAdded,
		Payload:       map[string]any{"count": len(items)},
	}
	if err := outbox.InsertTx(ctx, tx, event.EventID, cfg.KafkaTopic, reservationID, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func reservationByIdempotency(ctx context.Context, pool *pgxpool.Pool, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var reservationID string
	err := pool.QueryRow(ctx, `SELECT reservation_id FROM reservation_idempotency WHERE idempotency_key=$1`, key).Scan(&reservationID)
	if err != nil {
		return "", err
	}
	return reservationID, nil
}

func relayOutbox(pool *pgxpool.Pool, client *kafka.Client, cfg cfg) {
	writer := client.NewWriter(cfg.KafkaTopic)
	defer writer.Close()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		records, err := outbox.FetchPending(ctx, pool, 100)
		if err != nil {
			log.Printf("outbox fetch error: %v", err)
			cancel()
			time.Sleep(cfg.OutboxPoll)
			continue
		}
		for _, rec := range records {
			if err := kafka.PublishJSON(ctx, writer, rec.Key, json.RawMessage(rec.Payload)); err != nil {
				log.Printf("outbox publish error: %v", err)
				break
			}
			if err := outbox.MarkSent(ctx, pool, rec.ID); err != nil {
				log.Printf("outbox mark error: %v", err)
				break
			}
			logging.Log(logging.Fields{Service: "reservation-service", EventID: rec.EventID, Step: "outbox_relay", Status: "sent"})
		}
		cancel()
		time.Sleep(cfg.OutboxPoll)
	}
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			price_cents BIGINT NOT NULL,
			image_url TEXT,
			variants TEXT[] NOT NULL DEFAULT '{}',
			box_capacity INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			phone TEXT,
			city TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			pickup_at TIMESTAMPTZ NOT NULL,
			customer_name TEXT NOT NULL,
			customer_phone TEXT,
			total_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_items (
			id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			variant TEXT,
			box_payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_idempotency (
			idempotency_key TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS reservation_items_reservation_idx ON reservation_items(reservation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	products := []catalog.Product{
		{ID: "donut-glazed", Kind: catalog.ProductKindDonut, Name: "Glazed", PriceCents: 180, Variants: []string{"classic", "maple", "chocolate"}},
		{ID: "donut-boston", Kind: catalog.ProductKindDonut, Name: "Boston Cream", PriceCents: 210},
		{ID: "donut-jelly", Kind: catalog.ProductKindDonut, Name: "Jelly", PriceCents: 195, Variants: []string{"raspberry", "apricot"}},
		{ID: "drink-coffee", Kind: catalog.ProductKindDrink, Name: "Drip Coffee", PriceCents: 250},
		{ID: "box-6", Kind: catalog.ProductKindBox, Name: "Half Dozen Box", PriceCents: 950, BoxCapacity: 6},
		{ID: "box-12", Kind: catalog.ProductKindBox, Name: "Dozen Box", PriceCents: 1700, BoxCapacity: 12},
	}
	for _, p := range products {
		variants := p.Variants
		if variants == nil {
			variants = []string{}
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO products(id, kind, name, price_cents, image_url, variants, box_capacity)
			 VALUES($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Kind, p.Name, p.PriceCents, nullable(p.ImageURL), variants, p.BoxCapacity,
		)
		if err != nil {
			return err
		}
	}

	stores := []catalog.Store{
		{ID: "store-center", Name: "Center", Address: "1 Main St", Phone: "+1-555-0100", City: "Springfield"},
		{ID: "store-north", Name: "Northside", Address: "99 Elm Ave", City: "Springfield"},
	}
	for _, s := range stores {
		_, err := pool.Exec(ctx,
			`INSERT INTO stores(id, name, address, phone, city)
			 VALUES($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			s.ID, s.Name, s.Address, nullable(s.Phone), s.City,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
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

func isTrue(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	l := strings.ToLower(err.Error())
	return strings.Contains(l, "duplicate") || strings.Contains(l, "unique")
}
