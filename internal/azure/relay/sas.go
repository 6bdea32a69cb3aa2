package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// namespaceSuffix completes a bare namespace name into its host
	namespaceSuffix = ".servicebus.windows.net"

	// sasPrefix starts every shared access signature
	sasPrefix = "SharedAccessSignature "

	// refreshMargin is how long before expiry a cached token is replaced
	refreshMargin = 5 * time.Minute
)

// NamespaceHost returns the host of a relay namespace given either its bare
// name ("myrelay") or its host ("myrelay.servicebus.windows.net")
func NamespaceHost(namespace string) string {
	namespace = strings.TrimSuffix(strings.TrimSpace(namespace), "/")
	namespace = strings.TrimPrefix(namespace, "https://")
	namespace = strings.TrimPrefix(namespace, "sb://")
	if !strings.Contains(namespace, ".") {
		return namespace + namespaceSuffix
	}
	return namespace
}

// NamespaceName returns the bare name of a relay namespace
func NamespaceName(namespace string) string {
	host := NamespaceHost(namespace)
	name, _, _ := strings.Cut(host, ".")
	return name
}

// ResourceURI returns the resource a hybrid connection token is scoped to
func ResourceURI(namespace, hybridConnectionName string) string {
	return fmt.Sprintf("https://%s/%s", NamespaceHost(namespace), hybridConnectionName)
}

// IsSAS reports whether token is a shared access signature rather than an
// Azure AD token
func IsSAS(token string) bool {
	return strings.HasPrefix(token, sasPrefix)
}

// GenerateSASToken generates a Shared Access Signature token for Azure Relay.
// The signature is an HMAC-SHA256 of "<escaped uri>\n<expiry>" keyed with the
// policy key.
func GenerateSASToken(uri, keyName, key string, expiry time.Duration) (string, error) {
	return generateSASToken(uri, keyName, key, time.Now().Add(expiry))
}

func generateSASToken(uri, keyName, key string, expiresAt time.Time) (string, error) {
	key = strings.TrimSpace(key)
	if keyName == "" || key == "" {
		return "", fmt.Errorf("key name and key are required")
	}

	uri = strings.TrimSuffix(uri, "/")
	escapedURI := url.QueryEscape(uri)
	expiryTimestamp := expiresAt.Unix()

	h := hmac.New(sha256.New, []byte(key))
	fmt.Fprintf(h, "%s\n%d", escapedURI, expiryTimestamp)
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// Format: SharedAccessSignature sr=<url>&sig=<signature>&se=<expiry>&skn=<keyname>
	return fmt.Sprintf("%ssr=%s&sig=%s&se=%d&skn=%s",
		sasPrefix,
		escapedURI,
		url.QueryEscape(signature),
		expiryTimestamp,
		url.QueryEscape(keyName),
	), nil
}

// SASTokenProvider signs tokens for one hybrid connection and caches them
// until they are about to expire
type SASTokenProvider struct {
	uri     string
	keyName string
	key     string
	expiry  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSASTokenProvider creates a provider for the given hybrid connection.
// Tokens are valid for expiry (default 1 hour).
func NewSASTokenProvider(namespace, hybridConnectionName, keyName, key string, expiry time.Duration) (*SASTokenProvider, error) {
	if namespace == "" || hybridConnectionName == "" {
		return nil, fmt.Errorf("namespace and hybrid connection name are required")
	}
	if keyName == "" || key == "" {
		return nil, fmt.Errorf("key name and key are required")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &SASTokenProvider{
		uri:     ResourceURI(namespace, hybridConnectionName),
		keyName: keyName,
		key:     key,
		expiry:  expiry,
		now:     time.Now,
	}, nil
}

// GetToken returns a cached token or signs a new one
func (p *SASTokenProvider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && p.expiresAt.Sub(now) > refreshMargin {
		return p.token, nil
	}

	expiresAt := now.Add(p.expiry)
	token, err := generateSASToken(p.uri, p.keyName, p.key, expiresAt)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}
