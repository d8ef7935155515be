package pagination_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/okian/rubricsync/internal/pagination"
	"github.com/smartystreets/goconvey/convey"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func decodeItem(raw json.RawMessage) (item, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return item{}, err
	}
	if it.ID == "" {
		return item{}, errors.New("id is required")
	}
	return it, nil
}

func pageOf(start, n int, next string) pagination.Page {
	items := make([]item, n)
	for i := range items {
		items[i] = item{ID: fmt.Sprint(start + i)}
	}
	body, _ := json.Marshal(items)
	return pagination.Page{Body: body, NextURL: next}
}

func TestCursor(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given three pages of 100, 100 and 7 entities", t, func() {
		pages := map[string]pagination.Page{
			"/p2": pageOf(100, 100, "/p3"),
			"/p3": pageOf(200, 7, ""),
		}
		var fetched []string
		fetch := func(_ context.Context, url string) (pagination.Page, error) {
			fetched = append(fetched, url)
			return pages[url], nil
		}
		c := pagination.New(pageOf(0, 100, "/p2"), fetch, pagination.NewUnwrapper(decodeItem))

		convey.Convey("When the cursor is drained", func() {
			got, err := c.Collect(ctx)

			convey.Convey("Then all 207 entities arrive in page order", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(got), convey.ShouldEqual, 207)
				for i, it := range got {
					if it.ID != fmt.Sprint(i) {
						t.Fatalf("entity %d has id %s", i, it.ID)
					}
				}
				convey.So(fetched, convey.ShouldResemble, []string{"/p2", "/p3"})
				convey.So(c.Pages(), convey.ShouldEqual, 3)
			})

			convey.Convey("And a second pass yields nothing", func() {
				convey.So(c.Next(ctx), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When only the first entity is consumed", func() {
			convey.So(c.Next(ctx), convey.ShouldBeTrue)
			convey.So(c.Value().ID, convey.ShouldEqual, "0")

			convey.Convey("Then no further page is requested", func() {
				convey.So(fetched, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When iterated with range and stopped early", func() {
			n := 0
			for it, err := range c.All(ctx) {
				convey.So(err, convey.ShouldBeNil)
				n++
				if it.ID == "149" {
					break
				}
			}

			convey.Convey("Then iteration stops at the break", func() {
				convey.So(n, convey.ShouldEqual, 150)
				convey.So(fetched, convey.ShouldResemble, []string{"/p2"})
			})
		})
	})

	convey.Convey("Given a page containing an invalid entity", t, func() {
		fetch := func(context.Context, string) (pagination.Page, error) {
			return pagination.Page{Body: []byte(`[{"id":"x"},{"name":"no id"}]`)}, nil
		}
		c := pagination.New(pageOf(0, 2, "/bad"), fetch, pagination.NewUnwrapper(decodeItem))

		convey.Convey("Then the sequence terminates with a decode error", func() {
			got, err := c.Collect(ctx)
			convey.So(len(got), convey.ShouldEqual, 2)
			convey.So(errors.Is(err, pagination.ErrDecode), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a failing follow-up fetch", t, func() {
		boom := errors.New("boom")
		fetch := func(context.Context, string) (pagination.Page, error) {
			return pagination.Page{}, boom
		}
		c := pagination.New(pageOf(0, 1, "/next"), fetch, pagination.NewUnwrapper(decodeItem))

		convey.Convey("Then the fetch error is surfaced after the first page", func() {
			got, err := c.Collect(ctx)
			convey.So(len(got), convey.ShouldEqual, 1)
			convey.So(errors.Is(err, boom), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a cancelled context before a follow-up page", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		fetch := func(context.Context, string) (pagination.Page, error) {
			t.Fatal("fetch must not be called")
			return pagination.Page{}, nil
		}
		c := pagination.New(pageOf(0, 1, "/next"), fetch, pagination.NewUnwrapper(decodeItem))

		convey.Convey("Then the cursor stops with the context error", func() {
			_, err := c.Collect(cctx)
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

type course struct {
	ID   string `json:"id"`
	Term *struct {
		Name string `json:"name"`
	} `json:"term"`
}

func TestEnvelopeUnwrap(t *testing.T) {
	convey.Convey("Given an envelope response with a term side collection", t, func() {
		body := []byte(`{
			"meta": {"primaryCollection": "courses"},
			"courses": [
				{"id": "1", "enrollment_term_id": "10"},
				{"id": "2", "enrollment_term_id": 11},
				{"id": "3", "enrollment_term_id": "99"}
			],
			"enrollment_terms": [{"id": "10", "name": "Fall"}, {"id": 11, "name": "Spring"}, {"name": "orphan"}]
		}`)
		unwrap := pagination.NewUnwrapper(func(raw json.RawMessage) (course, error) {
			var c course
			err := json.Unmarshal(raw, &c)
			return c, err
		}, pagination.Join{ForeignKey: "enrollment_term_id", Field: "term"})

		convey.Convey("When unwrapped", func() {
			got, err := unwrap(body)

			convey.Convey("Then related terms are joined by foreign key", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(got), convey.ShouldEqual, 3)
				convey.So(got[0].Term.Name, convey.ShouldEqual, "Fall")
				convey.So(got[1].Term.Name, convey.ShouldEqual, "Spring")
				convey.So(got[2].Term, convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given malformed bodies", t, func() {
		unwrap := pagination.NewUnwrapper(decodeItem)

		convey.Convey("Then each is a decode error", func() {
			for _, body := range []string{``, `{"courses": []}`, `{"meta": {}}`, `not json`} {
				_, err := unwrap([]byte(body))
				convey.So(errors.Is(err, pagination.ErrDecode), convey.ShouldBeTrue)
			}
		})
	})
}

func TestNextLink(t *testing.T) {
	convey.Convey("Given Link headers", t, func() {
		h := http.Header{}
		h.Add("Link", `<https://x/api?page=1>; rel="current", <https://x/api?page=2>; rel="next", <https://x/api?page=9>; rel="last"`)

		convey.Convey("Then the next target is extracted", func() {
			convey.So(pagination.NextLink(h), convey.ShouldEqual, "https://x/api?page=2")
		})

		convey.Convey("Then commas inside targets and quoted parameters are kept", func() {
			h3 := http.Header{}
			h3.Add("Link", `<https://x/api?ids=1,2&page=1>; rel="prev"; title="a, b", <https://x/api?ids=1,2&page=3>; rel="next"`)
			convey.So(pagination.NextLink(h3), convey.ShouldEqual, "https://x/api?ids=1,2&page=3")
		})

		convey.Convey("Then a header without next yields empty", func() {
			h2 := http.Header{}
			h2.Set("Link", `<https://x/api?page=1>; rel="first"`)
			convey.So(pagination.NextLink(h2), convey.ShouldEqual, "")
			convey.So(pagination.NextLink(http.Header{}), convey.ShouldEqual, "")
		})
	})
}
