package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bioimage-chatbot-be/pkg/ai/intent"
)

const (
	maxResponseBytes = 1 << 20
	maxRedirects     = 5
)

var ErrHostNotAllowed = errors.New("capability host not allowed")

// Webhook is a caller-declared capability served over HTTP. Invoke POSTs
// the arguments as a JSON object to Endpoint.
type Webhook struct {
	spec     intent.CapabilitySpec
	endpoint string
	client   *http.Client
}

func (w *Webhook) Spec() intent.CapabilitySpec {
	return w.spec
}

func (w *Webhook) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	out, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("capability returned status %d: %s", res.StatusCode, strings.TrimSpace(string(out)))
	}

	// {"result": "..."} is unwrapped, anything else is returned verbatim
	var wrapped struct {
		Result *string `json:"result"`
	}
	if json.Unmarshal(out, &wrapped) == nil && wrapped.Result != nil {
		return *wrapped.Result, nil
	}
	return string(out), nil
}

// Factory builds webhooks and enforces the host allow-list.
type Factory struct {
	allowedHosts map[string]bool
	client       *http.Client
}

// NewFactory allows every public host when allowedHosts is empty. Loopback,
// link-local and unspecified addresses must always be listed explicitly.
// Redirects are checked against the same rules.
func NewFactory(allowedHosts []string, timeout time.Duration) *Factory {
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			hosts[h] = true
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &Factory{allowedHosts: hosts}
	f.client = &http.Client{
		Timeout:       timeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func (f *Factory) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return f.checkHost(req.URL.Hostname())
}

func (f *Factory) checkHost(host string) error {
	host = strings.ToLower(host)
	if f.allowedHosts[host] {
		return nil
	}
	if len(f.allowedHosts) > 0 || isInternal(host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

func isInternal(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func (f *Factory) New(name, description string, schema map[string]any, endpoint string) (*Webhook, error) {
	if name == "" {
		return nil, errors.New("capability name is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("capability %q endpoint: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("capability %q endpoint must be http(s)", name)
	}
	if err := f.checkHost(u.Hostname()); err != nil {
		return nil, err
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	return &Webhook{
		spec: intent.CapabilitySpec{
			Name:        name,
			Description: description,
			Schema:      schema,
		},
		endpoint: endpoint,
		client:   f.client,
	}, nil
}
