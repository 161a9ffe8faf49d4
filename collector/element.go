package collector

import (
	"strings"

	"mabletask/tracker/behavior"
)

// maxAncestors bounds every parent walk so a malformed tree cannot loop.
const maxAncestors = 32

// categoryDepth is how far up from the target a category rule may match.
const categoryDepth = 4

// Element is the slice of a DOM node the collectors look at. A nil *Element
// is a missing target and carries no signal.
type Element struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
	Text    string
	Parent  *Element
}

func (e *Element) tag() string { return strings.ToLower(e.Tag) }

func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

func (e *Element) HasAttr(name string) bool {
	if e == nil || e.Attrs == nil {
		return false
	}
	_, ok := e.Attrs[name]
	return ok
}

// mentions reports whether the id or any class contains one of subs.
func (e *Element) mentions(subs ...string) bool {
	id := strings.ToLower(e.ID)
	for _, s := range subs {
		if strings.Contains(id, s) {
			return true
		}
		for _, c := range e.Classes {
			if strings.Contains(strings.ToLower(c), s) {
				return true
			}
		}
	}
	return false
}

// Closest returns e or its nearest ancestor matching fn.
func (e *Element) Closest(fn func(*Element) bool) *Element {
	return e.closestWithin(maxAncestors, fn)
}

func (e *Element) closestWithin(depth int, fn func(*Element) bool) *Element {
	for i, cur := 0, e; cur != nil && i < depth; i, cur = i+1, cur.Parent {
		if fn(cur) {
			return cur
		}
	}
	return nil
}

// Key identifies an element for hover pairing: its own selector segment plus
// up to two ancestors.
func (e *Element) Key() string {
	if e == nil {
		return ""
	}
	var parts []string
	for i, cur := 0, e; cur != nil && i < 3; i, cur = i+1, cur.Parent {
		parts = append(parts, cur.segment())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ">")
}

func (e *Element) segment() string {
	if e.ID != "" {
		return e.tag() + "#" + e.ID
	}
	if len(e.Classes) > 0 {
		return e.tag() + "." + strings.Join(e.Classes, ".")
	}
	return e.tag()
}

// Label is the element's visible text, whitespace-collapsed and cut to 80
// runes.
func (e *Element) Label() string {
	if e == nil {
		return ""
	}
	text := strings.Join(strings.Fields(e.Text), " ")
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80])
	}
	return text
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"menuitem": true,
	"tab":      true,
	"checkbox": true,
	"radio":    true,
	"switch":   true,
	"option":   true,
}

func (e *Element) selfInteractive() bool {
	switch e.tag() {
	case "a":
		return e.HasAttr("href")
	case "button", "select", "textarea", "label", "summary":
		return true
	case "input":
		return e.Attr("type") != "hidden"
	}
	if interactiveRoles[strings.ToLower(e.Attr("role"))] {
		return true
	}
	if e.HasAttr("onclick") || e.Attr("contenteditable") == "true" {
		return true
	}
	if ti, ok := e.Attrs["tabindex"]; ok && ti != "-1" {
		return true
	}
	return false
}

// Interactive reports whether e or an ancestor is navigable or clickable.
func (e *Element) Interactive() bool {
	return e.Closest((*Element).selfInteractive) != nil
}

func isAddToCart(e *Element) bool {
	if e.Attr("name") == "add" {
		return true
	}
	if e.mentions("add-to-cart", "addtocart", "add_to_cart", "product-form__submit") {
		return true
	}
	return strings.Contains(e.Attr("action"), "/cart/add") && e.tag() == "form"
}

func isCheckout(e *Element) bool {
	return e.Attr("name") == "checkout" ||
		strings.Contains(e.Attr("href"), "/checkout") ||
		e.mentions("checkout")
}

func isPrice(e *Element) bool {
	return e.Attr("itemprop") == "price" || e.mentions("price")
}

func isProductImage(e *Element) bool {
	if e.mentions("product__media", "product-image", "product-gallery", "product__image", "product-single__photo") {
		return true
	}
	return e.tag() == "img" && e.Parent != nil && e.Parent.Closest(func(p *Element) bool { return p.mentions("product") }) != nil
}

func isSizeGuide(e *Element) bool {
	if e.mentions("size-guide", "sizeguide", "size_guide", "size-chart", "sizechart") {
		return true
	}
	text := strings.ToLower(e.Label())
	return strings.Contains(text, "size guide") || strings.Contains(text, "size chart")
}

// categoryRules are checked in order; the first match on the target or its
// ancestors wins.
var categoryRules = []struct {
	cat   behavior.Category
	match func(*Element) bool
}{
	{behavior.CategoryAddToCart, isAddToCart},
	{behavior.CategoryCheckout, isCheckout},
	{behavior.CategorySizeGuide, isSizeGuide},
	{behavior.CategoryPrice, isPrice},
	{behavior.CategoryProductImage, isProductImage},
}

// Classify maps a target to the category its clicks and hovers count under.
func Classify(e *Element) behavior.Category {
	if e == nil {
		return behavior.CategoryNone
	}
	for _, r := range categoryRules {
		if e.closestWithin(categoryDepth, r.match) != nil {
			return r.cat
		}
	}
	hit := e.Closest((*Element).selfInteractive)
	if hit == nil {
		return behavior.CategoryNone
	}
	if hit.tag() == "a" || strings.EqualFold(hit.Attr("role"), "link") {
		return behavior.CategoryLink
	}
	return behavior.CategoryButton
}

// FormKey names the form e sits in, or "" when it is outside any form.
func FormKey(e *Element) string {
	form := e.Closest(func(p *Element) bool { return p.tag() == "form" })
	if form == nil {
		return ""
	}
	for _, k := range []string{form.ID, form.Attr("name"), form.Attr("action")} {
		if k != "" {
			return k
		}
	}
	return "form"
}
