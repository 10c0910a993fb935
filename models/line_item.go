package models

// LineItem 代表購物車中的單個商品項目
//
// Field order is the serialized order of the persisted blob.
type LineItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Items is the ordered cart sequence. Every method returns a fresh slice and
// never mutates the receiver, so a published Items value is safe to share.
type Items []LineItem

// Index returns the position of the item with the given id, or -1.
func (s Items) Index(id string) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy of s. A nil receiver yields an empty, non-nil slice.
func (s Items) Clone() Items {
	out := make(Items, len(s))
	copy(out, s)
	return out
}

// Add merges candidate into the sequence: an existing id gains one unit in
// place, otherwise the candidate is appended with quantity 1.
func (s Items) Add(candidate LineItem) Items {
	out := s.Clone()
	if i := out.Index(candidate.ID); i >= 0 {
		out[i].Quantity++
		return out
	}
	candidate.Quantity = 1
	return append(out, candidate)
}

// Increment adds one unit to the item with the given id. Unknown ids leave
// the content unchanged.
func (s Items) Increment(id string) Items {
	out := s.Clone()
	if i := out.Index(id); i >= 0 {
		out[i].Quantity++
	}
	return out
}

// Decrement removes one unit from the item with the given id and evicts it
// once its quantity is exactly zero.
func (s Items) Decrement(id string) Items {
	out := s.Clone()
	i := out.Index(id)
	if i < 0 {
		return out
	}
	out[i].Quantity--
	if out[i].Quantity == 0 {
		return append(out[:i], out[i+1:]...)
	}
	return out
}

// Quantity returns the quantity held for id, zero when absent.
func (s Items) Quantity(id string) int {
	if i := s.Index(id); i >= 0 {
		return s[i].Quantity
	}
	return 0
}
