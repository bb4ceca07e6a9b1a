package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrKeySetURIEmpty indicates the key-set URL was not configured. This is a
// configuration problem, not a token problem.
var ErrKeySetURIEmpty = errors.New("jwtauth: key set uri is empty")

// ErrKeySetUnavailable indicates the key set could not be fetched. Retry
// policy belongs to the HTTP layer inside keyfunc; this resolver does not
// retry on its own.
var ErrKeySetUnavailable = errors.New("jwtauth: key set unavailable")

// KeySetResolver fetches and caches the identity provider's signing keys by
// URI. The cache holds a single (uri, key set) pair: a change in configured
// URI replaces it, so configuration changes take effect without a restart.
// Safe for concurrent use.
type KeySetResolver struct {
	mu  sync.Mutex
	ctx context.Context
	uri string
	kf  keyfunc.Keyfunc
}

// NewKeySetResolver returns an empty resolver. Keys are fetched lazily on the
// first Resolve call. The cached keyfunc and its background refresh run on the
// resolver's own context, not on the context of whichever request happened to
// trigger the fetch.
func NewKeySetResolver() *KeySetResolver {
	return &KeySetResolver{ctx: context.Background()}
}

// Resolve returns a jwt.Keyfunc backed by the key set at uri, selecting keys
// by the kid embedded in token headers. The underlying keyfunc auto-refreshes
// keys in the background for as long as the URI stays the same.
func (r *KeySetResolver) Resolve(uri string) (jwt.Keyfunc, error) {
	if uri == "" {
		return nil, ErrKeySetURIEmpty
	}
	if _, err := url.ParseRequestURI(uri); err != nil {
		return nil, fmt.Errorf("%w: invalid key set uri %q: %v", ErrKeySetURIEmpty, uri, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kf != nil && r.uri == uri {
		return r.kf.Keyfunc, nil
	}

	kf, err := keyfunc.NewDefaultCtx(r.ctx, []string{uri})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	r.uri = uri
	r.kf = kf
	return kf.Keyfunc, nil
}
