package scraper

import (
	"context"
	"sync"

	"liuproxy_pulse/internal/shared/logger"
	"liuproxy_pulse/proxypool/model"
)

// Scraper 接口定义了从代理源抓取候选代理的行为。
type Scraper interface {
	// Scrape 执行抓取操作，返回已规范化、去重的候选集合。
	// 实现者应只负责抓取和初步解析，不进行验证。
	Scrape(ctx context.Context) (model.CandidateSet, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// FetchAll 并发运行所有抓取器并合并结果。单个来源失败只记录日志并跳过；
// 全部失败时返回空集合。
func FetchAll(ctx context.Context, scrapers []Scraper) model.CandidateSet {
	l := logger.WithComponent("ProxyPool/Scraper")

	var wg sync.WaitGroup
	scrapedChan := make(chan model.CandidateSet, len(scrapers))

	for _, s := range scrapers {
		wg.Add(1)
		go func(sc Scraper) {
			defer wg.Done()
			set, err := sc.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed, skipping source.")
				return
			}
			l.Info().Int("count", len(set)).Str("source", sc.Name()).Msg("Successfully fetched proxies.")
			scrapedChan <- set
		}(s)
	}

	wg.Wait()
	close(scrapedChan)

	all := make(model.CandidateSet)
	for set := range scrapedChan {
		all.Merge(set)
	}
	l.Info().Int("count", len(all)).Int("sources", len(scrapers)).Msg("Total unique proxies fetched.")
	return all
}
