package commands

import (
	"errors"
	"os"

	"lwepub/lib/configutil"
)

type SiteConfig struct {
	BaseUrl   string `json:"base_url"`
	UserAgent string `json:"user_agent"`
	// RequestDelayMs spaces out requests to the site. Zero means the
	// 500ms default.
	RequestDelayMs int `json:"request_delay_ms"`
}

type ImagesConfig struct {
	// Dir holds downloaded images and their index. It persists across
	// runs so an image is only ever downloaded once.
	Dir          string   `json:"dir"`
	BlockedHosts []string `json:"blocked_hosts"`
	// RetryDelayMs is the wait between download attempts for a single
	// image. Zero means the store default.
	RetryDelayMs int `json:"retry_delay_ms"`
}

type Config struct {
	Site     SiteConfig   `json:"site"`
	CacheDir string       `json:"cache_dir"`
	Images   ImagesConfig `json:"images"`
}

// readConfig reads lwepub.json5 from the working directory. A missing
// file yields the defaults.
func readConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("lwepub.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if cfg.Site.BaseUrl == "" {
		cfg.Site.BaseUrl = "https://www.lesswrong.com"
	}
	if cfg.Site.UserAgent == "" {
		cfg.Site.UserAgent = "LessWrongEbookDownloader/1.0"
	}
	if cfg.Site.RequestDelayMs == 0 {
		cfg.Site.RequestDelayMs = 500
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "lwepub_cache"
	}
	if cfg.Images.Dir == "" {
		cfg.Images.Dir = "epub_images"
	}
	return cfg, nil
}
