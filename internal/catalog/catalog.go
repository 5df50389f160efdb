package catalog

type ProductID string
type StoreID string

type ProductKind string

const (
	ProductKindDonut ProductKind = "donut"
	ProductKindDrink ProductKind = "drink"
	ProductKindBox   ProductKind = "box"
)

type Product struct {
	ID         ProductID   `json:"id"`
	Kind       ProductKind `json:"kind"`
	Name       string      `json:"name"`
	PriceCents int64       `json:"price_cents"` // цены в центах
	ImageURL   string      `json:"image_url,omitempty"`
	// Variants a donut can be ordered in (glaze, filling). Empty for
	// boxes and drinks.
	Variants []string `json:"variants,omitempty"`
	// BoxCapacity is set only for box products (6 or 12).
	BoxCapacity int `json:"box_capacity,omitempty"`
}

type Store struct {
	ID      StoreID `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Phone   string  `json:"phone,omitempty"`
	City    string  `json:"city,omitempty"`
}
