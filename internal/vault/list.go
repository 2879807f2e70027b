package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/systmms/kvexport/internal/logging"
	"github.com/systmms/kvexport/internal/metrics"
)

// Lister returns the immediate children of a namespace prefix.
type Lister struct {
	client  Getter
	mount   string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewLister creates a Lister for mount. m may be nil.
func NewLister(client Getter, mount string, logger *logging.Logger, m *metrics.Metrics) *Lister {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Lister{client: client, mount: strings.Trim(mount, "/"), logger: logger, metrics: m}
}

// List returns the child keys of prefix in the order the store returned
// them. Entries ending in "/" are sub-namespaces.
//
// Any failure (not found, permission denied, not a listable node) yields
// an empty result: the caller cannot tell an empty namespace from a
// denied one. The cause is logged at debug level.
func (l *Lister) List(ctx context.Context, prefix string) []string {
	keys, err := l.list(ctx, prefix)
	if err != nil {
		l.metrics.ListFailed()
		l.logger.Debug("No children listed for '%s': %v", displayPrefix(prefix), err)
		return nil
	}
	l.metrics.NamespaceListed()
	return keys
}

func (l *Lister) list(ctx context.Context, prefix string) ([]string, error) {
	path := l.mount
	if prefix != "" {
		path += "/" + strings.TrimPrefix(prefix, "/")
	}

	body, err := l.client.Get(ctx, path, true)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data *struct {
			Keys []interface{} `json:"keys"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}
	if response.Data == nil || len(response.Data.Keys) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(response.Data.Keys))
	for _, k := range response.Data.Keys {
		if k == nil {
			continue
		}
		key := fmt.Sprintf("%v", k)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func displayPrefix(prefix string) string {
	if prefix == "" {
		return "<root>"
	}
	return prefix
}
