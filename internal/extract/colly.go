// Package extract implements the fetch+extract collaborator using a Colly
// collector with CSS selection.
package extract

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/throttle"
	"github.com/pagewatch/pagewatch/internal/watch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyExtractor fetches a target page and extracts one named item list by
// CSS selector. Each selected element becomes an item with a text field, a
// resolved url (from the element's link attribute or its first anchor), and
// an identity key when the rule names a key attribute.
type CollyExtractor struct {
	cfg           Config
	throttle      *throttle.Throttle
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a CollyExtractor. The throttle gates every fetch by hostname.
func New(cfg Config, th *throttle.Throttle, logger *zap.Logger) *CollyExtractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &CollyExtractor{
		cfg:           cfg,
		throttle:      th,
		baseCollector: c,
		logger:        logger,
	}
}

// Extract fetches args.URL and returns {rule name: item list}. A rule with
// no URL or no selector is unusable and reported as ErrRuleNotFound.
func (e *CollyExtractor) Extract(ctx context.Context, args watch.RequestArgs) (map[string]any, error) {
	if args.URL == "" {
		return nil, fmt.Errorf("request args missing url: %w", watch.ErrRuleNotFound)
	}
	if args.Selector == "" {
		return nil, fmt.Errorf("request args for %s missing selector: %w", args.URL, watch.ErrRuleNotFound)
	}
	if e.throttle != nil {
		if err := e.throttle.Wait(ctx, args.URL); err != nil {
			return nil, err
		}
	}

	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		items    []watch.Item
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range args.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnHTML(args.Selector, func(el *colly.HTMLElement) {
		items = append(items, e.buildItem(args, el))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := e.visit(ctx, collector, args.URL); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", args.URL, fetchErr)
	}

	name := args.Name
	if name == "" {
		name = "result"
	}
	e.logger.Debug("extracted items", zap.String("url", args.URL), zap.Int("count", len(items)))
	return map[string]any{name: items}, nil
}

func (e *CollyExtractor) buildItem(args watch.RequestArgs, el *colly.HTMLElement) watch.Item {
	item := watch.Item{"text": strings.TrimSpace(el.Text)}

	href := ""
	if args.URLAttr != "" {
		href = el.Attr(args.URLAttr)
	}
	if href == "" {
		href = linkOf(el.DOM)
	}
	if href != "" {
		item["url"] = el.Request.AbsoluteURL(href)
	}
	if args.KeyAttr != "" {
		if key := el.Attr(args.KeyAttr); key != "" {
			item["__key__"] = key
		}
	}
	return item
}

// linkOf finds the element's own href or the href of its first anchor.
func linkOf(sel *goquery.Selection) string {
	if href, ok := sel.Attr("href"); ok {
		return href
	}
	if anchor := sel.Find("a[href]").First(); anchor.Length() > 0 {
		href, _ := anchor.Attr("href")
		return href
	}
	return ""
}

// visit runs the collector in a goroutine so a cycle deadline can abandon a
// slow fetch without waiting on it.
func (e *CollyExtractor) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
