// Package cart holds the client-side shopping cart: an ordered list of
// line items persisted best-effort to local storage after every
// mutation. In-memory state stays authoritative for the session.
package cart

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/donutshop-go/pkg/logging"
)

// StorageKey is the single namespace the cart occupies in durable
// local storage.
const StorageKey = "cart.items.v1"

// Storage is the durable local storage boundary: one record per
// namespace. pkg/localstore implements it over sqlite.
type Storage interface {
	Save(ctx context.Context, namespace string, payload []byte) error
	Load(ctx context.Context, namespace string) (payload []byte, ok bool, err error)
}

type DonutInput struct {
	ProductID      string
	Name           string
	UnitPriceCents int64
	Quantity       int
	ImageURL       string
	Variant        string
}

type BoxInput struct {
	ProductID      string
	Name           string
	UnitPriceCents int64
	ImageURL       string
	Contents       BoxContents
}

type Store struct {
	mu      sync.Mutex
	items   []LineItem
	storage Storage

	dirty chan struct{} // емкость 1: быстрые мутации сливаются в одну запись
	stop  chan struct{}
	done  chan struct{}
}

// New restores the cart from storage (exactly once) and starts the
// background persistence writer. A missing or unreadable record is an
// empty cart, never an error.
func New(ctx context.Context, storage Storage) *Store {
	s := &Store{
		storage: storage,
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.restore(ctx)
	go s.persistLoop()
	return s
}

func (s *Store) restore(ctx context.Context) {
	payload, ok, err := s.storage.Load(ctx, StorageKey)
	if err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "restore", Status: "load_error", Message: err.Error()})
		return
	}
	if !ok {
		return
	}
	var items []LineItem
	if err := json.Unmarshal(payload, &items); err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "restore", Status: "corrupt_record", Message: err.Error()})
		return
	}
	s.items = items
}

// AddDonut merges into an existing line with the same product and
// variant (the merged line keeps its position) or prepends a new line.
// Quantity is taken as given: callers own the >=1 check.
func (s *Store) AddDonut(in DonutInput) LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if SameDonutLine(s.items[i], in.ProductID, in.Variant) {
			s.items[i].Quantity += in.Quantity
			it := s.items[i]
			s.markDirty()
			return it
		}
	}

	it := LineItem{
		ID:             uuid.NewString(),
		Kind:           ItemKindDonut,
		ProductID:      in.ProductID,
		Name:           in.Name,
		UnitPriceCents: in.UnitPriceCents,
		Quantity:       in.Quantity,
		ImageURL:       in.ImageURL,
		Variant:        in.Variant,
	}
	s.items = append([]LineItem{it}, s.items...)
	s.markDirty()
	return it
}

// AddBox always creates a new line: every composed box is distinct
// even when the catalog product repeats. Quantity is fixed at 1.
func (s *Store) AddBox(in BoxInput) LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents := in.Contents
	it := LineItem{
		ID:             uuid.NewString(),
		Kind:           ItemKindBox,
		ProductID:      in.ProductID,
		Name:           in.Name,
		UnitPriceCents: in.UnitPriceCents,
		Quantity:       1,
		ImageURL:       in.ImageURL,
		Box:            &contents,
	}
	s.items = append([]LineItem{it}, s.items...)
	s.markDirty()
	return it
}

// RemoveItem drops the line with the given id. Removing an unknown id
// is a no-op.
func (s *Store) RemoveItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.markDirty()
			return
		}
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.markDirty()
}

func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

func (s *Store) TotalPriceCents() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, it := range s.items {
		total += it.UnitPriceCents * int64(it.Quantity)
	}
	return total
}

// markDirty schedules a best-effort persist. Callers hold s.mu; the
// non-blocking send coalesces bursts into one write of the latest
// state.
func (s *Store) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) persistLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.dirty:
			s.persist()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) persist() {
	s.mu.Lock()
	items := make([]LineItem, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()

	payload, err := json.Marshal(items)
	if err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "persist", Status: "encode_error", Message: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.storage.Save(ctx, StorageKey, payload); err != nil {
		logging.Log(logging.Fields{Service: "cart", Step: "persist", Status: "save_error", Message: err.Error()})
	}
}

// Flush writes the current state synchronously.
func (s *Store) Flush() {
	s.persist()
}

// Close stops the background writer and performs a final best-effort
// write.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
	s.persist()
}
