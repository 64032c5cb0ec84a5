package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/proxypool/model"
)

const (
	DefaultFetchTimeout = 15 * time.Second

	userAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	maxBodySize = 32 << 20
)

// ListScraper 抓取一个在线代理列表。纯文本响应按行解析；
// HTML 响应按表格解析，每行的前两个单元格视为 ip 和端口。
type ListScraper struct {
	url     string
	timeout time.Duration
}

// NewListScraper 创建一个新的实例
func NewListScraper(url string, timeout time.Duration) Scraper {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ListScraper{url: url, timeout: timeout}
}

// NewListScrapers 为每个 URL 创建一个 ListScraper。
func NewListScrapers(urls []string, timeout time.Duration) []Scraper {
	scrapers := make([]Scraper, 0, len(urls))
	for _, u := range urls {
		scrapers = append(scrapers, NewListScraper(u, timeout))
	}
	return scrapers
}

func (s *ListScraper) Name() string {
	return s.url
}

func (s *ListScraper) Scrape(ctx context.Context) (model.CandidateSet, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(maxBodySize),
	)
	c.SetRequestTimeout(s.timeout)

	set := make(model.CandidateSet)
	var scrapeErr error

	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode != 200 {
			scrapeErr = fmt.Errorf("received non-200 status code (%d) from %s", r.StatusCode, s.Name())
			return
		}
		if isHTML(r.Headers.Get("Content-Type")) {
			return // 交给 OnHTML 处理
		}
		for _, line := range strings.Split(string(r.Body), "\n") {
			set.AddRaw(line)
		}
	})

	c.OnHTML("tr", func(e *colly.HTMLElement) {
		if scrapeErr != nil {
			return
		}
		if raw, ok := rowCandidate(e.DOM); ok {
			set.AddRaw(raw)
		}
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	if scrapeErr != nil {
		return nil, scrapeErr
	}

	l.Debug().Int("count", len(set)).Str("source", s.Name()).Msg("Scrape finished.")
	return set, nil
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "html")
}

// rowCandidate 从表格行中取出 "ip:port"。单元格不足或端口非数字时跳过。
func rowCandidate(sel *goquery.Selection) (string, bool) {
	cells := sel.Find("td")
	if cells.Length() < 2 {
		return "", false
	}
	ip := strings.TrimSpace(cells.Eq(0).Text())
	portStr := strings.TrimSpace(cells.Eq(1).Text())
	if ip == "" || portStr == "" {
		return "", false
	}
	if port, err := strconv.Atoi(portStr); err != nil || port <= 0 || port > 65535 {
		return "", false
	}
	return ip + ":" + portStr, true
}
