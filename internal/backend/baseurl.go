package backend

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultLocalPort is where a locally run backend listens.
const DefaultLocalPort = 5000

// ResolveBaseURL picks the backend origin for a page served from pageURL.
// Pages on a loopback or local hostname talk to a backend on localPort;
// every other page talks to its own origin.
func ResolveBaseURL(pageURL string, localPort int) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("page url %q has no host", pageURL)
	}
	if localPort <= 0 {
		localPort = DefaultLocalPort
	}

	if IsLocalHost(u.Hostname()) {
		return "http://localhost:" + strconv.Itoa(localPort), nil
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + u.Host, nil
}

// IsLocalHost reports whether host names the local machine.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	switch host {
	case "localhost", "0.0.0.0", "":
		return true
	}
	if strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}
