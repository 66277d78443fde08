package wait

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ForHTTP returns a Strategy that is ready once a GET to path on the host
// port mapped from internalPort returns expectedStatus.
func ForHTTP(internalPort int, path string, expectedStatus int) *httpProbe {
	if path == "" {
		path = "/"
	}
	return &httpProbe{internalPort: internalPort, path: path, expectedStatus: expectedStatus}
}

type httpProbe struct {
	baseTimeout
	internalPort   int
	path           string
	expectedStatus int
	headers        http.Header
}

// WithHeaders attaches request headers to the probe.
func (p *httpProbe) WithHeaders(h http.Header) *httpProbe {
	p.headers = h
	return p
}

func (p *httpProbe) WaitUntilReady(ctx context.Context, target Target) error {
	client := &http.Client{Timeout: probeRetryInterval * 5}
	ticker := time.NewTicker(probeRetryInterval)
	defer ticker.Stop()

	path := p.path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for {
		hostPort, err := resolveHostPort(ctx, target, p.internalPort)
		if err == nil {
			url := fmt.Sprintf("http://%s%s", net.JoinHostPort(hostIP(target), hostPort), path)
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if reqErr == nil {
				for k, vs := range p.headers {
					for _, v := range vs {
						req.Header.Add(k, v)
					}
				}
				resp, doErr := client.Do(req)
				if doErr == nil {
					resp.Body.Close()
					if resp.StatusCode == p.expectedStatus {
						return nil
					}
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &Error{Kind: KindExceeded, Err: ctx.Err(), Message: fmt.Sprintf("http probe %s never returned %d", path, p.expectedStatus)}
		}
	}
}
