package config

import "time"

// Remote API defaults
const (
	DefaultBaseURL   = "https://connectapi.garmin.com"
	RequestTimeout   = 30 * time.Second
	LoginTimeout     = 15 * time.Second
	MaxLoginAttempts = 3
	MaxFetchAttempts = 3
	BackoffInitial   = 500 * time.Millisecond
	BackoffMax       = 8 * time.Second
	RateLimitWait    = 5 * time.Second
)

// Activities feed paging
const (
	ActivitiesPageSize = 100
	ActivitiesMaxPages = 200
)

// Export defaults
const (
	DefaultDaysBack  = 30
	DefaultOutDir    = "garmin_export"
	DailySummaryFile = "daily_summary.csv"
	TimeSeriesFile   = "df_all.csv"
	ProfileFile      = "profile.json"
	PipelineTimeout  = 30 * time.Minute
)

// Cache defaults
const (
	DefaultCacheSubdir = ".cache"
	CacheMemoryMB      = 32
)
