// Package fetcher retrieves and parses catalog listing and book detail
// pages from the upstream HTML catalog. Grounded on
// original_source/crawler/book_crawler.py's extraction selectors, ported to
// XPath for github.com/antchfx/htmlquery, with request coalescing via
// golang.org/x/sync/singleflight (the same idiom the teacher's Controller
// uses to avoid duplicate upstream fetches).
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/nowail/bookwatch/internal/model"
)

var digitsRE = regexp.MustCompile(`\d+`)

// ratingWords maps the star-rating CSS class suffix to its numeric value,
// mirroring BookRating's One..Five enum.
var ratingWords = map[string]int{
	"One": 1, "Two": 2, "Three": 3, "Four": 4, "Five": 5,
}

// fetchRecorder is the minimal metrics surface fetchDocument reports
// outcomes to; satisfied structurally by *metrics.Collector.
type fetchRecorder interface {
	FetchSuccessInc()
	FetchErrorInc()
	FetchRetryInc()
}

type nopFetchRecorder struct{}

func (nopFetchRecorder) FetchSuccessInc() {}
func (nopFetchRecorder) FetchErrorInc()   {}
func (nopFetchRecorder) FetchRetryInc()   {}

// Fetcher retrieves catalog pages and individual book pages.
type Fetcher struct {
	client    *http.Client
	baseURL   string
	retries   int
	retryBase time.Duration
	group     singleflight.Group
	metrics   fetchRecorder
}

// New builds a Fetcher against baseURL (e.g. https://books.toscrape.com),
// using client for transport (already rate-limited and host-scoped; see
// NewUpstreamClient).
func New(client *http.Client, baseURL string, retries int, retryBase time.Duration) *Fetcher {
	return &Fetcher{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		retries:   retries,
		retryBase: retryBase,
		metrics:   nopFetchRecorder{},
	}
}

// SetMetrics wires a fetch-outcome recorder into the Fetcher. Safe to call
// with nil, in which case recording stays a no-op.
func (f *Fetcher) SetMetrics(m fetchRecorder) {
	if m != nil {
		f.metrics = m
	}
}

// ListingPageURL returns the catalog page URL for pageNum (1-indexed).
func (f *Fetcher) ListingPageURL(pageNum int) string {
	if pageNum <= 1 {
		return f.baseURL + "/"
	}
	return fmt.Sprintf("%s/catalogue/page-%d.html", f.baseURL, pageNum)
}

// BookLink is a listing-page entry: the absolute detail page URL. The
// listing's title text is not kept; the detail page is the source of truth
// for Name.
type BookLink struct {
	URL string
}

// FetchListingPage retrieves a catalog page and returns the detail-page
// links for every book_pod on it. A 404 (page doesn't exist) is reported
// via ErrPageNotFound so callers can distinguish it from transient errors.
func (f *Fetcher) FetchListingPage(ctx context.Context, pageNum int) ([]BookLink, error) {
	pageURL := f.ListingPageURL(pageNum)
	doc, err := f.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	nodes := htmlquery.Find(doc, "//article[contains(concat(' ', normalize-space(@class), ' '), ' product_pod ')]//h3/a")
	links := make([]BookLink, 0, len(nodes))
	for _, n := range nodes {
		href := htmlquery.SelectAttr(n, "href")
		if href == "" {
			continue
		}
		abs, err := resolveURL(pageURL, href)
		if err != nil {
			continue
		}
		links = append(links, BookLink{URL: abs})
	}
	return links, nil
}

// FetchBook retrieves and parses a single book detail page.
func (f *Fetcher) FetchBook(ctx context.Context, bookURL string) (model.Book, error) {
	v, err, _ := f.group.Do(bookURL, func() (any, error) {
		doc, err := f.fetchDocument(ctx, bookURL)
		if err != nil {
			return model.Book{}, err
		}
		return extractBook(doc, bookURL)
	})
	if err != nil {
		return model.Book{}, err
	}
	return v.(model.Book), nil
}

// extractBook walks doc per the selector map:
//
//	name:               //h1
//	description:        //div[@id='product_description']/following-sibling::p[1]
//	category:           //ul[@class='breadcrumb']/li[3]/a
//	price_including_tax: //p[@class='price_color']
//	price_excluding_tax: 3rd row of the product info table
//	availability:       //p[@class='availability']
//	number_of_reviews:  7th row of the product info table
//	image_url:          //div[contains(@class,'item') and contains(@class,'active')]//img
//	rating:             //p[contains(@class,'star-rating')]/@class
func extractBook(doc *html.Node, bookURL string) (model.Book, error) {
	name := textOf(htmlquery.FindOne(doc, "//h1"))
	if name == "" {
		return model.Book{}, fmt.Errorf("fetcher: no title found at %s", bookURL)
	}

	description := textOf(htmlquery.FindOne(doc, "//div[@id='product_description']/following-sibling::p[1]"))
	category := textOf(htmlquery.FindOne(doc, "//ul[@class='breadcrumb']/li[3]/a"))

	priceIncl := model.ParseMoney(textOf(htmlquery.FindOne(doc, "//p[@class='price_color']")))
	priceExcl := model.ParseMoney(textOf(htmlquery.FindOne(doc, "//table[contains(@class,'table')]//tr[3]/td")))

	availabilityText := strings.ToLower(textOf(htmlquery.FindOne(doc, "//p[@class='availability']")))
	availability := model.OutOfStock
	if strings.Contains(availabilityText, "in stock") {
		availability = model.InStock
	}

	reviewsText := textOf(htmlquery.FindOne(doc, "//table[contains(@class,'table')]//tr[7]/td"))
	numberOfReviews := firstInt(reviewsText)

	var imageURL string
	if img := htmlquery.FindOne(doc, "//div[contains(concat(' ',normalize-space(@class),' '),' item ') and contains(concat(' ',normalize-space(@class),' '),' active ')]//img"); img != nil {
		if src := htmlquery.SelectAttr(img, "src"); src != "" {
			if abs, err := resolveURL(bookURL, src); err == nil {
				imageURL = abs
			}
		}
	}

	rating := model.Rating{}
	if ratingNode := htmlquery.FindOne(doc, "//p[contains(concat(' ',normalize-space(@class),' '),' star-rating ')]"); ratingNode != nil {
		classAttr := htmlquery.SelectAttr(ratingNode, "class")
		for word, val := range ratingWords {
			if strings.Contains(classAttr, word) {
				rating = model.NewRating(val)
				break
			}
		}
	}

	return model.Book{
		SourceURL:         bookURL,
		BookID:            model.DeriveBookID(bookURL),
		Name:              name,
		Description:       description,
		Category:          category,
		PriceIncludingTax: priceIncl,
		PriceExcludingTax: priceExcl,
		Availability:      availability,
		Rating:            rating,
		NumberOfReviews:   numberOfReviews,
		ImageURL:          imageURL,
	}, nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(n))
}

func firstInt(s string) int {
	m := digitsRE.FindString(s)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// fetchDocument performs an HTTP GET with retry/exponential-backoff,
// mirroring _make_request_with_retry, and parses the body as HTML.
func (f *Fetcher) fetchDocument(ctx context.Context, pageURL string) (*html.Node, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return nil, ErrPageNotFound
			}
			if resp.StatusCode >= 400 {
				lastErr = fmt.Errorf("fetcher: %s returned status %d", pageURL, resp.StatusCode)
			} else {
				doc, perr := htmlquery.Parse(resp.Body)
				if perr != nil {
					return nil, fmt.Errorf("fetcher: parsing %s: %w", pageURL, perr)
				}
				f.metrics.FetchSuccessInc()
				return doc, nil
			}
		} else {
			lastErr = err
		}

		if attempt < f.retries {
			f.metrics.FetchRetryInc()
			delay := f.retryBase * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	f.metrics.FetchErrorInc()
	return nil, lastErr
}
