package cart

type ItemKind string

const (
	ItemKindDonut ItemKind = "donut"
	ItemKindBox   ItemKind = "box"
)

// BoxSelection is one donut inside a composed box, in the order the
// customer first picked it.
type BoxSelection struct {
	DonutID  string `json:"donut_id"`
	Quantity int    `json:"quantity"`
}

type BoxContents struct {
	Capacity   int            `json:"capacity"`
	Selections []BoxSelection `json:"selections"`
}

// LineItem is one entry in the cart: a single donut selection or one
// fully composed box. Box lines always have Quantity 1.
type LineItem struct {
	ID             string       `json:"id"`
	Kind           ItemKind     `json:"kind"`
	ProductID      string       `json:"product_id"`
	Name           string       `json:"name"`
	UnitPriceCents int64        `json:"unit_price_cents"`
	Quantity       int          `json:"quantity"`
	ImageURL       string       `json:"image_url,omitempty"`
	Variant        string       `json:"variant,omitempty"`
	Box            *BoxContents `json:"box,omitempty"`
}

// SameDonutLine reports whether an existing line item absorbs a new
// donut addition instead of creating a duplicate line. The identity
// key is productID + variant (both absent counts as equal); box lines
// never merge.
func SameDonutLine(it LineItem, productID, variant string) bool {
	return it.Kind == ItemKindDonut && it.ProductID == productID && it.Variant == variant
}
