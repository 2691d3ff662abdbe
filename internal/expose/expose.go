// Package expose publishes the local forwarder on the internet through
// a reverse-tunnel service such as localhost.run.  A Supervisor runs a
// tunnel client, picks the public URL out of its output, and starts a
// new client whenever the previous one exits.
package expose

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

// Runner runs one tunnel client for a local port until it exits or ctx
// is cancelled.  Every line the client prints is passed to onLine.
type Runner interface {
	Run(ctx context.Context, port int, onLine func(line string)) error
	String() string
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// DefaultIgnoreHosts are hosts whose links appear in localhost.run's
// welcome text but are not the tunnel address.
var DefaultIgnoreHosts = []string{"localhost.run", "admin.localhost.run", "twitter.com"}

// ScrapeURL returns the first http(s) URL in line whose host is not in
// ignore, or "".
func ScrapeURL(line string, ignore []string) string {
	for _, m := range urlPattern.FindAllString(line, -1) {
		m = strings.TrimRight(m, ".,;)\"'")
		u, err := url.Parse(m)
		if err != nil || u.Host == "" {
			continue
		}
		if hostIgnored(u.Hostname(), ignore) {
			continue
		}
		return m
	}
	return ""
}

func hostIgnored(host string, ignore []string) bool {
	for _, h := range ignore {
		if strings.EqualFold(host, h) {
			return true
		}
	}
	return false
}
