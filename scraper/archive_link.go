// scraper/archive_link.go
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FindArchiveURL scrapes the open data landing page at pageURL and returns the
// absolute URL of the first ZIP link whose href or text contains pattern
// (case-insensitive). The archive lives under a media path that changes with
// each publication, so the landing page is the stable entry point.
func (f *Fetcher) FindArchiveURL(ctx context.Context, pageURL, pattern string) (string, error) {
	f.Logger.Info("looking for archive link", slog.String("page", pageURL), slog.String("pattern", pattern))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	res, err := f.Client.Do(req)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("failed to get page: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", &FetchError{URL: pageURL, StatusCode: res.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("failed to parse page URL: %w", err)}
	}

	needle := strings.ToLower(pattern)
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		lowerHref := strings.ToLower(href)
		if !strings.Contains(strings.SplitN(lowerHref, "?", 2)[0], ".zip") {
			return true
		}
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if needle != "" && !strings.Contains(lowerHref, needle) && !strings.Contains(text, needle) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			f.Logger.Warn("skipping unparseable link", slog.String("href", href), slog.Any("error", err))
			return true
		}
		found = base.ResolveReference(ref).String()
		return false
	})

	if found == "" {
		return "", &FetchError{URL: pageURL, Err: fmt.Errorf("no archive link matching %q found on page", pattern)}
	}

	f.Logger.Info("found archive link", slog.String("url", found))
	return found, nil
}
