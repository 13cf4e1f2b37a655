// Package loadgen drives synthetic traffic at a running instance, for smoke
// checks and for exercising the rate limiter and metrics pipeline.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         float64
	Concurrency int
	Seed        int64
}

type Result struct {
	Total    int
	ByClass  map[string]int
	Failures int
	Elapsed  time.Duration
}

type target struct {
	method string
	path   string
	body   string
}

var profiles = map[string][]target{
	"auth": {
		{http.MethodPost, "/api/v1/auth/signin", `{"email":"loadgen@example.com","password":"not-a-password"}`},
		{http.MethodPost, "/api/v1/auth/password/forgot", `{"email":"loadgen@example.com"}`},
	},
	"device": {
		{http.MethodPost, "/api/v1/device/code", ""},
		{http.MethodPost, "/api/v1/device/token", `{"device_code":"loadgen"}`},
	},
	"health": {
		{http.MethodGet, "/health/live", ""},
		{http.MethodGet, "/health/ready", ""},
	},
}

func Run(ctx context.Context, cfg Config) (*Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets := profiles[profile]
	if profile == "mixed" {
		for _, set := range profiles {
			targets = append(targets, set...)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var mu sync.Mutex
	res := &Result{ByClass: make(map[string]int)}
	picks := make(chan target)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tgt := range picks {
				class, ok := fire(ctx, client, cfg.BaseURL, tgt)
				mu.Lock()
				res.Total++
				if ok {
					res.ByClass[class]++
				} else {
					res.Failures++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		select {
		case picks <- targets[rng.Intn(len(targets))]:
		case <-ctx.Done():
			break feed
		}
	}
	close(picks)
	wg.Wait()
	res.Elapsed = time.Since(start)
	return res, nil
}

func fire(ctx context.Context, client *http.Client, baseURL string, tgt target) (string, bool) {
	var body *bytes.Reader
	if tgt.body != "" {
		body = bytes.NewReader([]byte(tgt.body))
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, tgt.method, strings.TrimRight(baseURL, "/")+tgt.path, body)
	if err != nil {
		return "", false
	}
	if tgt.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	return classifyStatusClass(resp.StatusCode), true
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	profile = strings.ToLower(strings.TrimSpace(profile))
	if profile == "" {
		return "mixed"
	}
	return profile
}
