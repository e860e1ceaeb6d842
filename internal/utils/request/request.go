package request

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultRetryCount    = 3
	DefaultRetryWait     = 300 * time.Millisecond
	DefaultRetryMaxWait  = 5 * time.Second
	DefaultRateLimitWait = 15 * time.Second
	DefaultTimeout       = 10 * time.Second
)

// Options 请求客户端配置
type Options struct {
	RetryCount    int
	RetryWait     time.Duration
	RetryMaxWait  time.Duration
	RateLimitWait time.Duration
	Timeout       time.Duration
	// HTTPClient replaces the default proxy aware client, e.g. an httptest client.
	HTTPClient *http.Client
}

// New builds a resty client that retries transport errors, 429 and 5xx responses.
// Rate limited requests wait RateLimitWait, other failures back off exponentially.
func New(opts Options) *resty.Client {
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = DefaultRetryMaxWait
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = DefaultRateLimitWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New().SetTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment, // 通用适配环境变量
		})
	}

	// resty clamps every wait to the max wait
	maxWait := opts.RetryMaxWait
	if maxWait < opts.RateLimitWait {
		maxWait = opts.RateLimitWait
	}

	rateLimitWait := opts.RateLimitWait
	return client.
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(maxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			if r != nil && r.StatusCode() == http.StatusTooManyRequests {
				return rateLimitWait, nil
			}
			return 0, nil
		})
}

var Request = New(Options{RetryCount: DefaultRetryCount})
