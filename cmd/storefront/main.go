// storefront is the customer-facing client: browse the catalog, build
// a box, manage the local cart and place a pickup reservation against
// the reservation-service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nazeru/donutshop-go/internal/boxbuilder"
	"github.com/nazeru/donutshop-go/internal/cart"
	"github.com/nazeru/donutshop-go/internal/catalog"
	"github.com/nazeru/donutshop-go/internal/reservation"
	"github.com/nazeru/donutshop-go/pkg/backend"
	"github.com/nazeru/donutshop-go/pkg/localstore"
)

const pickupLayout = "2006-01-02 15:04"

type screen int

const (
	screenMenu screen = iota
	screenDonuts
	screenBoxes
	screenBuilder
	screenCart
	screenCheckout
	screenDone
)

type model struct {
	scr screen

	cart    *cart.Store
	client  *backend.HTTP
	flow    *reservation.Flow
	builder *boxbuilder.Builder

	donuts []catalog.Product
	boxes  []catalog.Product
	stores []catalog.Store

	cursor     int
	variantIdx int
	boxProduct catalog.Product
	armedReset bool

	storeIdx int
	inputs   []textinput.Model
	focus    int

	busy          bool
	status        string
	reservationID string
}

type catalogLoadedMsg struct {
	products []catalog.Product
	stores   []catalog.Store
	err      error
}

type submitDoneMsg struct {
	reservationID string
	err           error
}

func initialModel(c *cart.Store, client *backend.HTTP, flow *reservation.Flow) model {
	name := textinput.New()
	name.Placeholder = "Name"
	name.Focus()
	phone := textinput.New()
	phone.Placeholder = "Phone (optional)"
	pickup := textinput.New()
	pickup.Placeholder = "Pickup, e.g. " + time.Now().Add(time.Hour).Format(pickupLayout)

	return model{
		cart:   c,
		client: client,
		flow:   flow,
		inputs: []textinput.Model{name, phone, pickup},
		status: "Loading catalog...",
	}
}

func (m model) Init() tea.Cmd {
	return m.loadCatalogCmd()
}

func (m model) loadCatalogCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		products, err := m.client.ReadProducts(ctx, backend.ProductFilter{})
		if err != nil {
			return catalogLoadedMsg{err: err}
		}
		stores, err := m.client.ReadStores(ctx, backend.StoreFilter{})
		if err != nil {
			return catalogLoadedMsg{err: err}
		}
		return catalogLoadedMsg{products: products, stores: stores}
	}
}

func (m model) submitCmd(in reservation.Input) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		id, err := m.flow.Submit(ctx, in)
		return submitDoneMsg{reservationID: id, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case catalogLoadedMsg:
		if msg.err != nil {
			m.status = "Catalog load failed: " + msg.err.Error()
			return m, nil
		}
		m.donuts = m.donuts[:0]
		m.boxes = m.boxes[:0]
		for _, p := range msg.products {
			switch p.Kind {
			case catalog.ProductKindBox:
				m.boxes = append(m.boxes, p)
			case catalog.ProductKindDonut:
				m.donuts = append(m.donuts, p)
			}
		}
		m.stores = msg.stores
		m.status = "Ready"
		return m, nil

	case submitDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Reservation failed: " + msg.err.Error()
			return m, nil
		}
		m.reservationID = msg.reservationID
		m.scr = screenDone
		m.status = "Reservation placed"
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.busy {
			// повторная отправка заблокирована, пока идёт запрос
			return m, nil
		}
		switch m.scr {
		case screenMenu:
			return m.updateMenu(msg)
		case screenDonuts:
			return m.updateDonuts(msg)
		case screenBoxes:
			return m.updateBoxes(msg)
		case screenBuilder:
			return m.updateBuilder(msg)
		case screenCart:
			return m.updateCart(msg)
		case screenCheckout:
			return m.updateCheckout(msg)
		case screenDone:
			if msg.String() == "enter" || msg.String() == "q" {
				m.scr = screenMenu
				m.status = "Ready"
			}
			return m, nil
		}
	}
	return m, nil
}

var menuEntries = []string{"Donuts", "Boxes", "Cart", "Checkout", "Quit"}

func (m model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(menuEntries)-1 {
			m.cursor++
		}
	case "enter":
		switch menuEntries[m.cursor] {
		case "Donuts":
			m.scr = screenDonuts
			m.cursor = 0
			m.variantIdx = 0
		case "Boxes":
			m.scr = screenBoxes
			m.cursor = 0
		case "Cart":
			m.scr = screenCart
			m.cursor = 0
		case "Checkout":
			m.scr = screenCheckout
			m.focus = 0
			m.refocus()
		case "Quit":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) updateDonuts(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.scr = screenMenu
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.variantIdx = 0
		}
	case "down", "j":
		if m.cursor < len(m.donuts)-1 {
			m.cursor++
			m.variantIdx = 0
		}
	case "left", "right":
		if len(m.donuts) == 0 {
			break
		}
		variants := m.donuts[m.cursor].Variants
		if len(variants) == 0 {
			break
		}
		if msg.String() == "right" {
			m.variantIdx = (m.variantIdx + 1) % (len(variants) + 1)
		} else {
			m.variantIdx = (m.variantIdx + len(variants)) % (len(variants) + 1)
		}
	case "enter":
		if len(m.donuts) == 0 {
			break
		}
		p := m.donuts[m.cursor]
		m.cart.AddDonut(cart.DonutInput{
			ProductID:      string(p.ID),
			Name:           p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       1,
			ImageURL:       p.ImageURL,
			Variant:        m.selectedVariant(p),
		})
		m.status = fmt.Sprintf("Added %s (cart: %d items)", p.Name, m.cart.TotalCount())
	}
	return m, nil
}

func (m model) selectedVariant(p catalog.Product) string {
	// index 0 means "no variant"
	if m.variantIdx == 0 || m.variantIdx > len(p.Variants) {
		return ""
	}
	return p.Variants[m.variantIdx-1]
}

func (m model) updateBoxes(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.scr = screenMenu
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.boxes)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.boxes) == 0 {
			break
		}
		m.boxProduct = m.boxes[m.cursor]
		m.builder = boxbuilder.New(m.boxProduct.BoxCapacity)
		m.armedReset = false
		m.scr = screenBuilder
		m.cursor = 0
	}
	return m, nil
}

func (m model) updateBuilder(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "r" {
		m.armedReset = false
	}
	switch msg.String() {
	case "q", "esc":
		// leaving without confirming discards the composition
		m.builder = nil
		m.scr = screenBoxes
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.donuts)-1 {
			m.cursor++
		}
	case "+", "right", "enter":
		if len(m.donuts) == 0 {
			break
		}
		if !m.builder.Increment(string(m.donuts[m.cursor].ID)) {
			m.status = "Box is full"
		}
	case "-", "left":
		if len(m.donuts) == 0 {
			break
		}
		m.builder.Decrement(string(m.donuts[m.cursor].ID))
	case "r":
		// destructive: ask for a second press
		if !m.armedReset {
			m.armedReset = true
			m.status = "Press r again to clear the box"
			break
		}
		m.builder.Reset()
		m.armedReset = false
		m.status = "Box cleared"
	case "c":
		contents, err := m.builder.Confirm()
		if err != nil {
			m.status = fmt.Sprintf("Cannot add box: %v (%d/%d)", err, m.builder.TotalSelected(), m.builder.Capacity())
			break
		}
		m.cart.AddBox(cart.BoxInput{
			ProductID:      string(m.boxProduct.ID),
			Name:           m.boxProduct.Name,
			UnitPriceCents: m.boxProduct.PriceCents,
			ImageURL:       m.boxProduct.ImageURL,
			Contents:       contents,
		})
		m.builder = nil
		m.scr = screenCart
		m.cursor = 0
		m.status = fmt.Sprintf("Added %s to cart", m.boxProduct.Name)
	}
	return m, nil
}

func (m model) updateCart(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := m.cart.Items()
	switch msg.String() {
	case "q", "esc":
		m.scr = screenMenu
		m.cursor = 0
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(items)-1 {
			m.cursor++
		}
	case "d":
		if m.cursor < len(items) {
			m.cart.RemoveItem(items[m.cursor].ID)
			if m.cursor > 0 {
				m.cursor--
			}
		}
	case "enter":
		m.scr = screenCheckout
		m.focus = 0
		m.refocus()
	}
	return m, nil
}

func (m *model) refocus() {
	for i := range m.inputs {
		if i == m.focus {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m model) updateCheckout(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.scr = screenMenu
		m.cursor = 0
		return m, nil
	case "tab", "down":
		m.focus = (m.focus + 1) % len(m.inputs)
		m.refocus()
		return m, nil
	case "shift+tab", "up":
		m.focus = (m.focus + len(m.inputs) - 1) % len(m.inputs)
		m.refocus()
		return m, nil
	case "left", "right":
		if len(m.stores) == 0 {
			return m, nil
		}
		if msg.String() == "right" {
			m.storeIdx = (m.storeIdx + 1) % len(m.stores)
		} else {
			m.storeIdx = (m.storeIdx + len(m.stores) - 1) % len(m.stores)
		}
		return m, nil
	case "enter":
		in, err := m.checkoutInput()
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.busy = true
		m.status = "Submitting..."
		return m, m.submitCmd(in)
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m model) checkoutInput() (reservation.Input, error) {
	if len(m.stores) == 0 {
		return reservation.Input{}, fmt.Errorf("no stores available")
	}
	pickupRaw := strings.TrimSpace(m.inputs[2].Value())
	pickup, err := time.ParseInLocation(pickupLayout, pickupRaw, time.Local)
	if err != nil {
		return reservation.Input{}, fmt.Errorf("pickup time must look like %q", pickupLayout)
	}
	return reservation.Input{
		StoreID:       string(m.stores[m.storeIdx].ID),
		PickupAt:      pickup,
		CustomerName:  m.inputs[0].Value(),
		CustomerPhone: m.inputs[1].Value(),
	}, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "donutshop storefront")
	fmt.Fprintln(b, "")

	switch m.scr {
	case screenMenu:
		for i, entry := range menuEntries {
			marker := " "
			if i == m.cursor {
				marker = ">"
			}
			fmt.Fprintf(b, " %s %s\n", marker, entry)
		}
		fmt.Fprintf(b, "\nCart: %d items, %s\n", m.cart.TotalCount(), money(m.cart.TotalPriceCents()))
		fmt.Fprintln(b, "\nControls: up/down, enter, q to quit")

	case screenDonuts:
		fmt.Fprintln(b, "Donuts:")
		for i, p := range m.donuts {
			marker := " "
			if i == m.cursor {
				marker = ">"
			}
			variant := ""
			if i == m.cursor && len(p.Variants) > 0 {
				v := m.selectedVariant(p)
				if v == "" {
					v = "plain"
				}
				variant = fmt.Sprintf("  [%s]", v)
			}
			fmt.Fprintf(b, " %s %-16s %8s%s\n", marker, p.Name, money(p.PriceCents), variant)
		}
		fmt.Fprintln(b, "\nControls: up/down, left/right variant, enter to add, esc back")

	case screenBoxes:
		fmt.Fprintln(b, "Boxes:")
		for i, p := range m.boxes {
			marker := " "
			if i == m.cursor {
				marker = ">"
			}
			fmt.Fprintf(b, " %s %-16s %8s  (%d donuts)\n", marker, p.Name, money(p.PriceCents), p.BoxCapacity)
		}
		fmt.Fprintln(b, "\nControls: up/down, enter to compose, esc back")

	case screenBuilder:
		fmt.Fprintf(b, "%s — %d/%d\n\n", m.boxProduct.Name, m.builder.TotalSelected(), m.builder.Capacity())
		for i, p := range m.donuts {
			marker := " "
			if i == m.cursor {
				marker = ">"
			}
			fmt.Fprintf(b, " %s %-16s x%d\n", marker, p.Name, m.builder.Count(string(p.ID)))
		}
		fmt.Fprintln(b, "\nControls: +/- adjust, r reset, c confirm, esc discard")

	case screenCart:
		items := m.cart.Items()
		if len(items) == 0 {
			fmt.Fprintln(b, "Cart is empty.")
		}
		for i, it := range items {
			marker := " "
			if i == m.cursor {
				marker = ">"
			}
			label := it.Name
			if it.Variant != "" {
				label += " (" + it.Variant + ")"
			}
			if it.Box != nil {
				label += fmt.Sprintf(" [box of %d]", it.Box.Capacity)
			}
			fmt.Fprintf(b, " %s %-28s x%-3d %8s\n", marker, label, it.Quantity, money(it.UnitPriceCents*int64(it.Quantity)))
		}
		fmt.Fprintf(b, "\nTotal: %d items, %s\n", m.cart.TotalCount(), money(m.cart.TotalPriceCents()))
		fmt.Fprintln(b, "\nControls: d remove, enter checkout, esc back")

	case screenCheckout:
		store := "none"
		if len(m.stores) > 0 {
			store = m.stores[m.storeIdx].Name + " — " + m.stores[m.storeIdx].Address
		}
		fmt.Fprintf(b, "Store (left/right): %s\n\n", store)
		labels := []string{"Name:  ", "Phone: ", "Pickup:"}
		for i, in := range m.inputs {
			fmt.Fprintf(b, " %s %s\n", labels[i], in.View())
		}
		fmt.Fprintf(b, "\nTotal due at pickup: %s\n", money(m.cart.TotalPriceCents()))
		fmt.Fprintln(b, "\nControls: tab next field, enter submit, esc back")

	case screenDone:
		fmt.Fprintf(b, "Reservation %s placed. See you at the counter!\n", m.reservationID)
		fmt.Fprintln(b, "\nControls: enter back to menu")
	}

	fmt.Fprintf(b, "\nStatus: %s\n", m.status)
	return b.String()
}

func money(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func main() {
	baseURL := getenv("BACKEND_BASE_URL", "http://localhost:8080")
	dbPath := getenv("CART_DB_PATH", defaultCartPath())

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("cart dir error: %v", err)
	}
	store, err := localstore.Open(dbPath)
	if err != nil {
		log.Fatalf("local store error: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c := cart.New(ctx, store)
	cancel()
	defer c.Close()

	client := backend.NewHTTP(baseURL)
	flow := reservation.NewFlow(c, client)

	p := tea.NewProgram(initialModel(c, client, flow))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func defaultCartPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "donutshop-cart.db"
	}
	return filepath.Join(home, ".donutshop", "cart.db")
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
