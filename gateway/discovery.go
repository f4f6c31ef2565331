package gateway

import (
	"context"
	"net/url"
)

// Info is what the discovery endpoint reports: where to connect, how many
// shards the service recommends, and how many identifies may run at once.
type Info struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is the identify budget attached to discovery info.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// DiscoveryFunc resolves gateway Info. The REST client that usually backs
// this is an external collaborator; the protocol machinery only needs
// this one function from it.
type DiscoveryFunc func(ctx context.Context) (Info, error)

// StaticDiscovery returns a DiscoveryFunc that always reports the given
// endpoint. Used in tests and single-shard setups where the URL is known.
func StaticDiscovery(info Info) DiscoveryFunc {
	return func(context.Context) (Info, error) {
		return info, nil
	}
}

// BuildURL appends the protocol version, encoding and optional transport
// compression parameters to a gateway base URL.
func BuildURL(base string, compress bool) string {
	u, err := url.Parse(base)
	if err != nil {
		// A malformed base fails at dial time with a clearer error.
		return base
	}
	q := u.Query()
	q.Set("v", "10")
	q.Set("encoding", "json")
	if compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
