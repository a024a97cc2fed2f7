package pipeline

import (
	"net"
	"net/http"
	"time"
)

const defaultPoolSize = 16

// NewPooledHTTPClient returns the client shared by every HTTP collaborator.
// poolSize bounds idle connections per host; timeout caps a whole request
// including the streamed body, and zero leaves deadlines to the caller's context.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          poolSize * 4,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 45 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
