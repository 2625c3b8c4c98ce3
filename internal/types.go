package internal

import (
	"sjsage522/emlakworker/helpers"
	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/services/cache"
	"sjsage522/emlakworker/services/sink"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	// Cache stores host cooldowns; nil disables them
	Cache     cache.CacheService
	Sink      sink.Sink
	Proxy     crawler.ProxyProvider
	Navigator crawler.Navigator
	Detector  *crawler.ChallengeDetector
	Parser    crawler.PageParser
	// Failures records permanently failed requests; nil disables it
	Failures helpers.FailureRecorder
}
