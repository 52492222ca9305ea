package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailPage = `
<html><body>
<h1>A Light in the Attic</h1>
<div id="product_description"></div>
<p>It's hard to imagine a world without A Light in the Attic.</p>
<ul class="breadcrumb"><li>Home</li><li>Books</li><li><a>Poetry</a></li></ul>
<p class="price_color">£51.77</p>
<table class="table table-striped">
<tr><td>UPC</td></tr>
<tr><td>Book</td></tr>
<tr><td>£50.00</td></tr>
<tr><td>£1.77</td></tr>
<tr><td>In stock</td></tr>
<tr><td>Tax</td></tr>
<tr><td>0</td></tr>
</table>
<p class="availability">In stock (22 available)</p>
<div class="item active"><img src="../../media/cache/fe/cover.jpg"/></div>
<p class="star-rating Three"></p>
</body></html>`

func newTestServer(t *testing.T, listingHTML map[int]string, detail string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/catalogue/a-light-in-the-attic_1000/index.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detail)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if html, ok := listingHTML[1]; ok && r.URL.Path == "/" {
			fmt.Fprint(w, html)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/catalogue/page-2.html", func(w http.ResponseWriter, r *http.Request) {
		if html, ok := listingHTML[2]; ok {
			fmt.Fprint(w, html)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func listingPage(hrefs ...string) string {
	s := "<html><body>"
	for _, href := range hrefs {
		s += fmt.Sprintf(`<article class="product_pod"><h3><a href="%s"></a></h3></article>`, href)
	}
	s += "</body></html>"
	return s
}

func TestFetchBookExtractsAllFields(t *testing.T) {
	srv := newTestServer(t, nil, detailPage)
	defer srv.Close()

	f := New(srv.Client(), srv.URL, 0, time.Millisecond)
	b, err := f.FetchBook(context.Background(), srv.URL+"/catalogue/a-light-in-the-attic_1000/index.html")
	require.NoError(t, err)

	assert.Equal(t, "A Light in the Attic", b.Name)
	assert.Equal(t, "Poetry", b.Category)
	assert.Equal(t, "51.77", b.PriceIncludingTax.String())
	assert.Equal(t, "50.00", b.PriceExcludingTax.String())
	assert.True(t, b.Rating.Valid)
	assert.Equal(t, 3, b.Rating.Value)
	assert.Equal(t, "in_stock", string(b.Availability))
	require.NotEmpty(t, b.BookID)
	assert.Contains(t, b.ImageURL, "cover.jpg")
}

func TestFetchListingPageExtractsLinks(t *testing.T) {
	listings := map[int]string{
		1: listingPage("/catalogue/a-light-in-the-attic_1000/index.html", "/catalogue/other_2/index.html"),
	}
	srv := newTestServer(t, listings, detailPage)
	defer srv.Close()

	f := New(srv.Client(), srv.URL, 0, time.Millisecond)
	links, err := f.FetchListingPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestCountPagesSingleListingPage(t *testing.T) {
	listings := map[int]string{
		1: listingPage("/catalogue/a-light-in-the-attic_1000/index.html"),
	}
	srv := newTestServer(t, listings, detailPage)
	defer srv.Close()

	f := New(srv.Client(), srv.URL, 0, time.Millisecond)
	n, err := f.CountPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountPagesTwoListingPages(t *testing.T) {
	listings := map[int]string{
		1: listingPage("/catalogue/a-light-in-the-attic_1000/index.html"),
		2: listingPage("/catalogue/a-light-in-the-attic_1000/index.html"),
	}
	srv := newTestServer(t, listings, detailPage)
	defer srv.Close()

	f := New(srv.Client(), srv.URL, 0, time.Millisecond)
	n, err := f.CountPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
