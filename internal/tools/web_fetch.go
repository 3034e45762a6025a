package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/internal/netpolicy"
	"github.com/nextlevelbuilder/sovereignclaw/internal/store"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

const (
	defaultFetchMaxChars = 50000
	fetchTimeoutSeconds  = 30
	fetchUserAgent       = "sovereignclaw/1.0 (+https://github.com/nextlevelbuilder/sovereignclaw)"
)

// WebFetchTool fetches a URL under network policy. DNS resolution is
// pinned: the policy-checked IP is the one dialed, closing the
// rebinding window between check and fetch. Large responses go to the
// artifact store by reference.
type WebFetchTool struct {
	guard     *netpolicy.Guard
	artifacts store.ArtifactStore
	emitter   *bus.Emitter
	maxChars  int
}

func NewWebFetchTool(guard *netpolicy.Guard, artifacts store.ArtifactStore, emitter *bus.Emitter) *WebFetchTool {
	return &WebFetchTool{
		guard:     guard,
		artifacts: artifacts,
		emitter:   emitter,
		maxChars:  defaultFetchMaxChars,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Idempotent() bool { return true }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content. Outbound access is restricted by the network policy; private addresses are always blocked."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (*Output, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return Fail("url is required"), nil
	}

	decision, err := t.guard.Check(rawURL)
	if err != nil {
		return Fail(fmt.Sprintf("invalid URL: %v", err)), nil
	}
	if !decision.Allowed {
		t.emitEgress(ctx, rawURL, false, decision.Reason)
		return Fail("network policy denied: " + decision.Reason), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Fail(fmt.Sprintf("invalid URL: %v", err)), nil
	}

	ip, err := netpolicy.ResolveAndCheck(u.Hostname())
	if err != nil {
		t.emitEgress(ctx, rawURL, false, err.Error())
		return Fail("network policy denied: " + err.Error()), nil
	}

	t.emitEgress(ctx, rawURL, true, "")

	body, status, err := t.fetch(ctx, u, ip)
	if err != nil {
		return Fail(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	if status >= 400 {
		return Fail(fmt.Sprintf("fetch returned HTTP %d", status)), nil
	}

	if len(body) > t.maxChars {
		body = body[:t.maxChars] + "\n…[truncated]"
	}

	// Large payloads ride by reference.
	content, refID, err := store.MaybeStoreByRef(ctx, t.artifacts, body)
	if err != nil {
		return Fail(fmt.Sprintf("store fetched content: %v", err)), nil
	}
	out := Ok(content)
	if refID != "" {
		out.Data = map[string]any{"ref_id": string(refID)}
	}
	return out, nil
}

// fetch dials the validated IP directly while preserving the Host
// header and TLS server name.
func (t *WebFetchTool) fetch(ctx context.Context, u *url.URL, ip net.IP) (string, int, error) {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	pinned := net.JoinHostPort(ip.String(), port)

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, pinned)
		},
	}
	client := &http.Client{
		Timeout:   fetchTimeoutSeconds * time.Second,
		Transport: transport,
		// No redirects: each hop would need its own policy check.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars)*4))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return strings.ToValidUTF8(string(data), ""), resp.StatusCode, nil
}

func (t *WebFetchTool) emitEgress(ctx context.Context, url string, allowed bool, reason string) {
	if t.emitter == nil {
		return
	}
	t.emitter.Emit(bus.NewEvent(protocol.EventEgressRequest, map[string]any{
		"url": url, "allowed": allowed, "reason": reason,
	}).WithSession(SessionIDFromContext(ctx)))
}
