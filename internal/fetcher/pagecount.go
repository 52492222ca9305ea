package fetcher

import (
	"context"
	"errors"
)

// ErrPageNotFound is returned by fetchDocument for a 404, used by
// CountPages and the reconciler's page-walk phases to recognize "past the
// end of the catalog" rather than a transient failure.
var ErrPageNotFound = errors.New("fetcher: page not found")

// CountPages discovers the number of listing pages in the catalog.
//
// The original implementation bisected over a flat [1, 1000] bracket,
// which both under-counts catalogs larger than 1000 pages and wastes
// requests probing far past a small catalog. This instead probes
// exponentially (1, 2, 4, 8, ...) until a page is found empty or missing,
// establishing [lastNonEmpty, firstEmpty] as a bracket, then bisects
// within that bracket for the exact boundary.
func (f *Fetcher) CountPages(ctx context.Context) (int, error) {
	links, err := f.FetchListingPage(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(links) == 0 {
		return 0, nil
	}

	low := 1 // known to have books
	high := 0
	probe := 2
	for {
		ok, err := f.pageHasBooks(ctx, probe)
		if err != nil {
			return 0, err
		}
		if !ok {
			high = probe
			break
		}
		low = probe
		probe *= 2
		if probe > 1<<20 {
			// Runaway catalog; bail out rather than loop forever.
			return low, nil
		}
	}

	// Bisect in (low, high): low has books, high does not.
	for low+1 < high {
		mid := (low + high) / 2
		ok, err := f.pageHasBooks(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ok {
			low = mid
		} else {
			high = mid
		}
	}
	return low, nil
}

// pageHasBooks reports whether the given listing page exists and has at
// least one book, treating ErrPageNotFound as "no books" rather than an
// error.
func (f *Fetcher) pageHasBooks(ctx context.Context, pageNum int) (bool, error) {
	links, err := f.FetchListingPage(ctx, pageNum)
	if err != nil {
		if errors.Is(err, ErrPageNotFound) {
			return false, nil
		}
		return false, err
	}
	return len(links) > 0, nil
}
