package session

import (
	"fmt"
	"maps"

	"mabletask/tracker/behavior"
	"mabletask/tracker/cart"
	"mabletask/tracker/models"
)

// emitter forwards collector output to the loop.
type emitter struct{ c *Controller }

func (e emitter) Scroll(s behavior.ScrollSample)   { e.c.post(func() { e.c.onScroll(s) }) }
func (e emitter) Pointer(s behavior.PointerSample) { e.c.post(func() { e.c.agg.Pointer(s) }) }
func (e emitter) Click(s behavior.ClickSample)     { e.c.post(func() { e.c.onClick(s) }) }
func (e emitter) Hover(s behavior.HoverSample)     { e.c.post(func() { e.c.agg.Hover(s) }) }
func (e emitter) Input(s behavior.InputSample)     { e.c.post(func() { e.c.agg.Input(s) }) }
func (e emitter) Idle(t behavior.IdleTick)         { e.c.post(func() { e.c.agg.Tick(t) }) }
func (e emitter) Cart(s cart.Snapshot)             { e.c.post(func() { e.c.onCart(s) }) }

func (e emitter) Visibility(s behavior.VisibilitySample) {
	e.c.post(func() { e.c.onVisibility(s) })
}

func (e emitter) FormStart(s behavior.FormStartSample) {
	e.c.post(func() { e.c.onFormStart(s) })
}

func (e emitter) Clipboard(s behavior.ClipboardSample) {
	e.c.post(func() { e.c.onClipboard(s) })
}

func (c *Controller) onScroll(s behavior.ScrollSample) {
	for _, m := range c.agg.Scroll(s) {
		c.enqueue(models.EventScrollMilestone, fmt.Sprintf("Scrolled %d%% of %s", m, c.page.Path()), s.T, map[string]any{
			"percent": m,
			"path":    c.page.Path(),
		})
	}
}

func (c *Controller) onClick(s behavior.ClickSample) {
	res := c.agg.Click(s)
	target := s.Label
	if target == "" {
		target = string(s.Category)
	}
	if target == "" {
		target = "page"
	}
	meta := map[string]any{
		"label":       s.Label,
		"category":    s.Category,
		"interactive": s.Interactive,
		"x":           s.X,
		"y":           s.Y,
		"path":        c.page.Path(),
	}

	c.enqueue(models.EventClick, "Clicked "+target, s.T, meta)
	if res.Rage {
		c.enqueue(models.EventRageClick, "Repeated clicks on "+target, s.T, meta)
	}
	if res.Dead {
		c.enqueue(models.EventDeadClick, "Click on non-interactive "+target, s.T, meta)
	}
}

func (c *Controller) onVisibility(s behavior.VisibilitySample) {
	if !c.agg.Visibility(s) {
		return
	}
	state := "visible"
	if s.Hidden {
		state = "hidden"
	}
	c.enqueue(models.EventVisibilityChange, "Page "+state, s.T, map[string]any{"state": state})
}

func (c *Controller) onFormStart(s behavior.FormStartSample) {
	if !c.agg.FormStart(s) {
		return
	}
	c.enqueue(models.EventFormStart, "Started form "+s.FormKey, s.T, map[string]any{"form": s.FormKey})
}

func (c *Controller) onClipboard(s behavior.ClipboardSample) {
	c.agg.Clipboard(s)
	if s.Paste {
		c.enqueue(models.EventPaste, "Pasted text", s.T, nil)
		return
	}
	c.enqueue(models.EventCopy, "Copied text", s.T, nil)
}

// onCart reports content changes and status changes separately: a poll can
// add and remove items without the cart going empty.
func (c *Controller) onCart(s cart.Snapshot) {
	res := c.agg.Cart(s)
	if ch := res.Change; ch != nil {
		meta := map[string]any{
			"cart_value":  ch.Value,
			"item_count":  s.ItemCount(),
			"fingerprint": s.Fingerprint(),
		}
		if ch.Added > 0 {
			c.enqueue(models.EventCartAdd, fmt.Sprintf("Added %d item(s) to cart", ch.Added), s.At, withCount(meta, "added", ch.Added))
		}
		if ch.Removed > 0 {
			c.enqueue(models.EventCartRemove, fmt.Sprintf("Removed %d item(s) from cart", ch.Removed), s.At, withCount(meta, "removed", ch.Removed))
		}
	}
	if res.StatusChanged {
		c.enqueue(models.EventCartStatus, "Cart is now "+res.Status, s.At, map[string]any{"cart_status": res.Status})
	}
}

func withCount(meta map[string]any, key string, n int) map[string]any {
	out := maps.Clone(meta)
	out[key] = n
	return out
}
