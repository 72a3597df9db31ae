package fetch

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pmuller/ipkg/internal/ipkgconfig"
)

// newHTTPClient builds the http.Client used by the remote backend.
//
// Security features:
//   - DisableCompression: true — prevents decompression bomb attacks
//   - SSRF protection via redirect validation (blocks private, loopback,
//     link-local, and multicast IPs, including the cloud metadata
//     endpoint at 169.254.169.254)
//   - DNS rebinding protection: every IP a redirect hostname resolves to
//     is validated, not just the first
//   - HTTPS-only redirects, capped at 5 hops
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ipkgconfig.GetAPITimeout(),
		Transport: &http.Transport{
			DisableCompression: true,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("refusing redirect to non-HTTPS URL: %s", req.URL)
			}
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}

			host := req.URL.Hostname()
			if ip := net.ParseIP(host); ip != nil {
				return validateIP(ip, host)
			}

			ips, err := net.LookupIP(host)
			if err != nil {
				return fmt.Errorf("failed to resolve redirect host %s: %w", host, err)
			}
			for _, ip := range ips {
				if err := validateIP(ip, host); err != nil {
					return fmt.Errorf("refusing redirect: %s resolves to blocked IP %s", host, ip)
				}
			}
			return nil
		},
	}
}

func validateIP(ip net.IP, host string) error {
	switch {
	case ip.IsPrivate():
		return fmt.Errorf("refusing redirect to private IP: %s (%s)", host, ip)
	case ip.IsLoopback():
		return fmt.Errorf("refusing redirect to loopback IP: %s (%s)", host, ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("refusing redirect to link-local IP: %s (%s)", host, ip)
	case ip.IsLinkLocalMulticast():
		return fmt.Errorf("refusing redirect to link-local multicast: %s (%s)", host, ip)
	case ip.IsMulticast():
		return fmt.Errorf("refusing redirect to multicast IP: %s (%s)", host, ip)
	case ip.IsUnspecified():
		return fmt.Errorf("refusing redirect to unspecified IP: %s (%s)", host, ip)
	default:
		return nil
	}
}
