package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

var (
	transportOnce sync.Once
	transport     *http.Transport
	clients       sync.Map // time.Duration -> *http.Client
)

func pooledTransport() *http.Transport {
	transportOnce.Do(func() {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns the process-wide client for timeout. All clients
// share one connection pool; a non-positive timeout means defaultHTTPTimeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if c, ok := clients.Load(timeout); ok {
		return c.(*http.Client)
	}
	c, _ := clients.LoadOrStore(timeout, &http.Client{Timeout: timeout, Transport: pooledTransport()})
	return c.(*http.Client)
}
