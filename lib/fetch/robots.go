package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Robots gates fetches on the target site's robots.txt. Rules are
// cached per host for the lifetime of the agent. Lookups fail open,
// an unreachable robots.txt should not stop a build.
type Robots struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	rules map[string]*robotstxt.RobotsData
}

func NewRobots(userAgent string) *Robots {
	return &Robots{
		client:    &http.Client{Timeout: time.Second * 10},
		userAgent: userAgent,
		rules:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether target may be fetched under the site's
// robots.txt rules for this agent's user agent.
func (r *Robots) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}

	rules, err := r.lookup(ctx, target)
	if err != nil {
		return true
	}

	group := rules.FindGroup(r.userAgent)
	if group == nil {
		group = rules.FindGroup("*")
	}
	if group == nil {
		return true
	}
	return group.Test(target.Path)
}

func (r *Robots) lookup(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	r.mu.Lock()
	cached, ok := r.rules[host]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	robotsUrl := fmt.Sprintf("%s://%s/robots.txt", target.Scheme, target.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsUrl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching robots.txt: status %s", res.Status)
	}

	rules, err := robotstxt.FromResponse(res)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.rules[host] = rules
	r.mu.Unlock()

	return rules, nil
}
