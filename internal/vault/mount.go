package vault

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/systmms/kvexport/internal/logging"
)

const mountsPath = "sys/mounts/"

// Classification says whether the list/read protocol applies to a mount.
type Classification int

const (
	Compatible Classification = iota
	Incompatible
)

func (c Classification) String() string {
	if c == Incompatible {
		return "incompatible"
	}
	return "compatible"
}

// MountInfo is the result of probing a mount.
type MountInfo struct {
	Mount          string
	Type           string // engine type, "" if unknown
	Version        string // options.version, "" if absent
	Probed         bool   // false when the metadata call failed or was unparsable
	Classification Classification
}

// Prober classifies a mount from its sys/mounts metadata.
type Prober struct {
	client Getter
	logger *logging.Logger
}

// NewProber creates a Prober.
func NewProber(client Getter, logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Prober{client: client, logger: logger}
}

// Probe fetches sys/mounts/<mount>/ and classifies the mount. It never
// fails: if the metadata cannot be fetched or parsed the mount is assumed
// to be KV version 1. Only an explicit kv + version "2" is incompatible.
func (p *Prober) Probe(ctx context.Context, mount string) MountInfo {
	mount = strings.Trim(mount, "/")
	info := MountInfo{Mount: mount, Classification: Compatible}

	// The trailing separator is required for the store to resolve the mount config.
	body, err := p.client.Get(ctx, mountsPath+mount+"/", false)
	if err != nil {
		p.logger.Debug("Mount probe for '%s' failed, assuming KV version 1: %v", mount, err)
		return info
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		p.logger.Debug("Mount probe for '%s' returned unparsable metadata, assuming KV version 1: %v", mount, err)
		return info
	}

	info.Probed = true
	info.Type = stringField(doc, []string{"type"}, []string{"data", "type"})
	info.Version = stringField(doc, []string{"options", "version"}, []string{"data", "options", "version"})

	if info.Type == "kv" && info.Version == "2" {
		info.Classification = Incompatible
	}

	p.logger.Debug("Mount '%s': type=%q version=%q (%s)", mount, info.Type, info.Version, info.Classification)
	return info
}

// stringField returns the first of paths that resolves to a scalar, as a
// string. Some deployments wrap the mount config in a "data" envelope, so
// callers pass the flat location first and the enveloped one second.
func stringField(doc map[string]interface{}, paths ...[]string) string {
	for _, path := range paths {
		if v, ok := lookup(doc, path); ok {
			if s, ok := scalarString(v); ok {
				return s
			}
		}
	}
	return ""
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
