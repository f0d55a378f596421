package domain

type CartItem struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"product_name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	ImageRef  string  `json:"image,omitempty"`
}

// Cart mirrors the backend's cart document. Subtotal, Discount and Total are
// always the values the server last returned.
type Cart struct {
	Items      []CartItem `json:"items"`
	Subtotal   float64    `json:"subtotal"`
	Discount   float64    `json:"discount"`
	Total      float64    `json:"total"`
	CouponCode string     `json:"coupon_code,omitempty"`
}

// ItemCount is the sum of all line quantities.
func (c Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a copy that does not share the items slice.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	return out
}
