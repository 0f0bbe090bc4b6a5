package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DiscoveryTimeout bounds each discovery request when the caller's
	// client has no timeout of its own.
	DiscoveryTimeout = 10 * time.Second

	// MCPProtocolVersion is the MCP protocol version spoken by this client.
	MCPProtocolVersion = "2024-11-05"

	wellKnownAuthServer = "/.well-known/oauth-authorization-server"

	maxMetadataSize = 1024 * 1024
)

// AuthorizationServerMetadata holds OAuth server metadata from RFC 8414.
type AuthorizationServerMetadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	// Optional
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsRegistration reports whether dynamic client registration is offered.
func (m *AuthorizationServerMetadata) SupportsRegistration() bool {
	return m.RegistrationEndpoint != ""
}

// DiscoverResult holds the result of OAuth discovery.
type DiscoverResult struct {
	Metadata *AuthorizationServerMetadata

	// URL is where the metadata was found.
	URL string
}

// Discover fetches authorization server metadata for an MCP server URL. It
// tries the origin's well-known document first, then the one under /mcp.
// Every failure wraps ErrDiscovery.
func Discover(ctx context.Context, client *http.Client, serverURL string) (*DiscoverResult, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid server URL %q", ErrDiscovery, serverURL)
	}
	origin := u.Scheme + "://" + u.Host

	return discoverFrom(ctx, client, []string{
		origin + wellKnownAuthServer,
		origin + "/mcp" + wellKnownAuthServer,
	})
}

// DiscoverFromChallenge follows an RFC 9728 resource_metadata pointer from a
// 401 Bearer challenge to the authorization server and discovers its metadata.
func DiscoverFromChallenge(ctx context.Context, client *http.Client, challenge *BearerChallenge) (*DiscoverResult, error) {
	if challenge == nil || challenge.ResourceMetadata == "" {
		return nil, fmt.Errorf("%w: no resource_metadata in challenge", ErrDiscovery)
	}

	var resource struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := getJSON(ctx, client, challenge.ResourceMetadata, &resource); err != nil {
		return nil, fmt.Errorf("%w: fetch resource metadata: %v", ErrDiscovery, err)
	}
	if len(resource.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("%w: resource metadata has no authorization_servers", ErrDiscovery)
	}

	var candidates []string
	for _, issuer := range resource.AuthorizationServers {
		candidates = append(candidates, issuerDiscoveryURLs(issuer)...)
	}
	return discoverFrom(ctx, client, candidates)
}

// issuerDiscoveryURLs lists the RFC 8414 locations for an issuer identifier:
// the path-inserted form first, then the root document.
func issuerDiscoveryURLs(issuer string) []string {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return nil
	}
	origin := u.Scheme + "://" + u.Host
	path := strings.TrimSuffix(u.Path, "/")
	if path == "" {
		return []string{origin + wellKnownAuthServer}
	}
	return []string{
		origin + wellKnownAuthServer + path,
		origin + path + wellKnownAuthServer,
		origin + wellKnownAuthServer,
	}
}

func discoverFrom(ctx context.Context, client *http.Client, candidates []string) (*DiscoverResult, error) {
	var errs []error
	for _, candidate := range candidates {
		var md AuthorizationServerMetadata
		if err := getJSON(ctx, client, candidate, &md); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			continue
		}
		if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
			errs = append(errs, fmt.Errorf("%s: missing authorization_endpoint or token_endpoint", candidate))
			continue
		}
		return &DiscoverResult{Metadata: &md, URL: candidate}, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no discovery locations", ErrDiscovery)
	}
	return nil, fmt.Errorf("%w: %w", ErrDiscovery, errors.Join(errs...))
}

// getJSON GETs a metadata document and decodes it into v.
func getJSON(ctx context.Context, client *http.Client, target string, v any) error {
	if client == nil {
		client = &http.Client{Timeout: DiscoveryTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("MCP-Protocol-Version", MCPProtocolVersion)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse metadata: %w", err)
	}
	return nil
}
