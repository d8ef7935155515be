// Package pagination walks server-paginated collections lazily, one page at
// a time, following the server-supplied next link.
package pagination

import (
	"context"
	"fmt"
	"iter"
)

// Page is one raw response of a paginated collection.
type Page struct {
	Body    []byte
	NextURL string // empty on the last page
}

// FetchFunc retrieves the page at url.
type FetchFunc func(ctx context.Context, url string) (Page, error)

// UnwrapFunc decodes and validates every entity of a page body.
type UnwrapFunc[T any] func(body []byte) ([]T, error)

// Cursor is a forward-only, single-pass sequence of decoded entities. It is
// not safe for concurrent use and cannot be restarted.
//
//	for c.Next(ctx) {
//		v := c.Value()
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor[T any] struct {
	fetch  FetchFunc
	unwrap UnwrapFunc[T]

	pending *Page // first page, not yet unwrapped
	next    string
	buf     []T
	idx     int
	cur     T
	has     bool
	err     error
	pages   int
}

// New builds a cursor from the already fetched first page.
func New[T any](first Page, fetch FetchFunc, unwrap UnwrapFunc[T]) *Cursor[T] {
	return &Cursor[T]{
		fetch:   fetch,
		unwrap:  unwrap,
		pending: &first,
	}
}

// Next advances to the next entity, fetching further pages as needed. It
// returns false at the end of the collection or on the first error.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	c.has = false
	for {
		if c.err != nil {
			return false
		}
		if c.idx < len(c.buf) {
			c.cur = c.buf[c.idx]
			c.idx++
			c.has = true
			return true
		}

		var page Page
		switch {
		case c.pending != nil:
			page = *c.pending
			c.pending = nil
		case c.next != "":
			if err := ctx.Err(); err != nil {
				c.err = err
				return false
			}
			p, err := c.fetch(ctx, c.next)
			if err != nil {
				c.err = fmt.Errorf("fetch page %d: %w", c.pages+1, err)
				return false
			}
			page = p
		default:
			return false
		}

		items, err := c.unwrap(page.Body)
		if err != nil {
			c.err = fmt.Errorf("page %d: %w", c.pages+1, err)
			return false
		}
		c.pages++
		c.buf, c.idx = items, 0
		c.next = page.NextURL
	}
}

// Value returns the entity Next advanced to.
func (c *Cursor[T]) Value() T {
	return c.cur
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor[T]) Err() error {
	return c.err
}

// Pages returns how many pages have been decoded so far.
func (c *Cursor[T]) Pages() int {
	return c.pages
}

// All adapts the cursor to a range-over-func sequence. The error, if any, is
// yielded once with a zero value as the final pair.
func (c *Cursor[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for c.Next(ctx) {
			if !yield(c.Value(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Collect drains the cursor into a slice.
func (c *Cursor[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for c.Next(ctx) {
		out = append(out, c.Value())
	}
	return out, c.Err()
}
