package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// pooledTransport is shared by every client SharedHTTPClient hands out so
// model endpoints and webhook notifiers reuse one connection pool.
var pooledTransport = sync.OnceValue(func() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
})

// SharedHTTPClient returns a client on the shared pool. timeout caps one
// attempt; the caller's context bounds the whole exchange. Zero means two
// minutes.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}
