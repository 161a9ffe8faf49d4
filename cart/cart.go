// Package cart models the storefront cart as seen by periodic polls.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

const (
	StatusEmpty    = "empty"
	StatusHasItems = "has_items"
)

type Item struct {
	ID           string  `json:"id"`
	Quantity     int     `json:"quantity"`
	ProductTitle string  `json:"product_title"`
	Price        float64 `json:"price"`
}

// Snapshot is one normalized cart poll. Prices are in currency units.
type Snapshot struct {
	Items      []Item    `json:"items"`
	TotalValue float64   `json:"total_value"`
	At         time.Time `json:"at"`
}

// Status reports has_items or empty.
func (s Snapshot) Status() string {
	if len(s.Items) > 0 {
		return StatusHasItems
	}
	return StatusEmpty
}

// ItemCount sums item quantities.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// Fingerprint hashes the sorted {item id, quantity} pairs. Titles and prices
// are excluded so a price refresh alone is not a cart change.
func (s Snapshot) Fingerprint() string {
	pairs := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		pairs = append(pairs, it.ID+":"+strconv.Itoa(it.Quantity))
	}
	sort.Strings(pairs)

	h := blake3.New()
	for _, p := range pairs {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// Quantities maps item id to total quantity.
func (s Snapshot) Quantities() map[string]int {
	q := make(map[string]int, len(s.Items))
	for _, it := range s.Items {
		q[it.ID] += it.Quantity
	}
	return q
}

// Source fetches the current cart.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// HTTPSource reads a Shopify-style cart.js endpoint, where prices are integer
// minor units.
type HTTPSource struct {
	URL    string
	Client *http.Client
	Now    func() time.Time
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		Now:    time.Now,
	}
}

type wireCart struct {
	Items []struct {
		ID           json.Number `json:"id"`
		Quantity     int         `json:"quantity"`
		ProductTitle string      `json:"product_title"`
		Price        float64     `json:"price"`
	} `json:"items"`
	TotalPrice float64 `json:"total_price"`
}

func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cart: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cart: fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("cart: fetch %s: unexpected status %d", s.URL, resp.StatusCode)
	}

	var wc wireCart
	if err := json.NewDecoder(resp.Body).Decode(&wc); err != nil {
		return Snapshot{}, fmt.Errorf("cart: decode response: %w", err)
	}

	snap := Snapshot{
		Items:      make([]Item, 0, len(wc.Items)),
		TotalValue: wc.TotalPrice / 100,
		At:         s.Now(),
	}
	for _, it := range wc.Items {
		snap.Items = append(snap.Items, Item{
			ID:           it.ID.String(),
			Quantity:     it.Quantity,
			ProductTitle: it.ProductTitle,
			Price:        it.Price / 100,
		})
	}
	return snap, nil
}
