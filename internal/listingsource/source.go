// Package listingsource navigates the marketplace's list and detail
// pages through a browserpool.Pool and extracts structured records. It
// has no persistence side effects — its only job is "page in, record
// out".
//
// Navigation follows the teacher's scraper.FetchWithChromedp pattern
// (navigate, poll document.readyState, pull outer HTML) but hands the
// resulting HTML to PuerkitoBio/goquery for extraction instead of the
// teacher's selector-driven generic extraction engine, since this
// source has fixed, named fields rather than user-configured selectors.
// Field rules, status derivation and image URL precedence are grounded
// in original_source/scrapers/inserate_ultra_optimized.py and
// original_source/scrapers/inserat.py.
package listingsource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/tbrandt/adscout/internal/browserpool"
	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/models"
)

// Source IS THE CAPABILITY THE SCRAPE PIPELINE DEPENDS ON
type Source interface {
	FetchList(ctx context.Context, q models.SearchParams, page int) ([]models.ListingSummary, error)
	FetchDetail(ctx context.Context, externalID string) (models.ListingDetail, error)
}

// Options CONFIGURES A Source
type Options struct {
	BaseURL           string
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = "https://www.kleinanzeigen.example"
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 90 * time.Second
	}
	if o.SelectorTimeout <= 0 {
		o.SelectorTimeout = 5 * time.Second
	}
	return o
}

type source struct {
	pool browserpool.Pool
	opts Options
}

// New BUILDS A Source BACKED BY pool
func New(pool browserpool.Pool, opts Options) Source {
	return &source{pool: pool, opts: opts.withDefaults()}
}

// FetchList BUILDS THE PAGINATED SEARCH URL, NAVIGATES IT AND EXTRACTS PER-CARD SUMMARIES
func (s *source) FetchList(ctx context.Context, q models.SearchParams, page int) ([]models.ListingSummary, error) {
	listURL, err := s.buildListURL(q, page)
	if err != nil {
		return nil, errs.New(errs.Validation, "invalid search params", err)
	}

	var html string
	bc, err := s.pool.AcquireContext(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.ReleaseContext(bc)

	err = s.pool.RunBounded(ctx, func(runCtx context.Context) error {
		navCtx, cancel := context.WithTimeout(bc.Ctx, s.opts.NavigationTimeout)
		defer cancel()
		return chromedp.Run(navCtx,
			chromedp.Navigate(listURL),
			waitReady(s.opts.SelectorTimeout),
			chromedp.OuterHTML("html", &html),
		)
	})
	if err != nil {
		return nil, classifyNavError(err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.New(errs.Parsing, "failed to parse list page", err)
	}

	return extractSummaries(doc), nil
}

// FetchDetail NAVIGATES THE AD'S OWN PAGE AND EXTRACTS THE FULL RECORD
func (s *source) FetchDetail(ctx context.Context, externalID string) (models.ListingDetail, error) {
	detailURL := fmt.Sprintf("%s/s-anzeige/%s", s.opts.BaseURL, url.PathEscape(externalID))

	var html string
	bc, err := s.pool.AcquireContext(ctx)
	if err != nil {
		return models.ListingDetail{}, err
	}
	defer s.pool.ReleaseContext(bc)

	err = s.pool.RunBounded(ctx, func(runCtx context.Context) error {
		navCtx, cancel := context.WithTimeout(bc.Ctx, s.opts.NavigationTimeout)
		defer cancel()
		return chromedp.Run(navCtx,
			chromedp.Navigate(detailURL),
			waitReady(s.opts.SelectorTimeout),
			chromedp.OuterHTML("html", &html),
		)
	})
	if err != nil {
		return models.ListingDetail{}, classifyNavError(err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ListingDetail{}, errs.New(errs.Parsing, "failed to parse detail page", err)
	}

	detail := extractDetail(doc)
	detail.ExternalID = externalID
	return detail, nil
}

func (s *source) buildListURL(q models.SearchParams, page int) (string, error) {
	u, err := url.Parse(s.opts.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/s-" + strconv.Itoa(page)

	values := url.Values{}
	if q.Query != "" {
		values.Set("keywords", q.Query)
	}
	if q.Location != "" {
		values.Set("locationStr", q.Location)
	}
	if q.MinPrice != nil {
		values.Set("priceMin", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil {
		values.Set("priceMax", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func waitReady(selectorTimeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var readyState string
		if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
			return err
		}
		if readyState != "complete" {
			return chromedp.Sleep(selectorTimeout).Do(ctx)
		}
		return nil
	})
}

func classifyNavError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.Network, "navigation timed out", err)
	}
	return errs.New(errs.Browser, "navigation failed", err)
}
