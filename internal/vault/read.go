package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/systmms/kvexport/internal/logging"
	"github.com/systmms/kvexport/internal/metrics"
)

var jsonNull = json.RawMessage("null")

// Record is one exported secret. Secret is the store's data field, verbatim.
type Record struct {
	Path   string          `json:"path"`
	Secret json.RawMessage `json:"secret"`
}

// Reader fetches leaf secrets.
type Reader struct {
	client  Getter
	mount   string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewReader creates a Reader for mount. m may be nil.
func NewReader(client Getter, mount string, logger *logging.Logger, m *metrics.Metrics) *Reader {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Reader{client: client, mount: strings.Trim(mount, "/"), logger: logger, metrics: m}
}

// Read fetches the secret at path (relative to the mount). On failure a
// warning naming the path is logged and false is returned; the caller carries on.
func (r *Reader) Read(ctx context.Context, path string) (Record, bool) {
	rec, err := r.read(ctx, path)
	if err != nil {
		r.metrics.ReadFailed()
		r.logger.Warn("Skipping secret '%s': %v", path, err)
		return Record{}, false
	}
	return rec, true
}

func (r *Reader) read(ctx context.Context, path string) (Record, error) {
	body, err := r.client.Get(ctx, r.mount+"/"+path, false)
	if err != nil {
		return Record{}, err
	}

	var response struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Record{}, fmt.Errorf("failed to decode secret response: %w", err)
	}

	secret := response.Data
	if len(bytes.TrimSpace(secret)) == 0 {
		secret = jsonNull
	}

	return Record{Path: path, Secret: secret}, nil
}
