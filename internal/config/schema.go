package config

// fileSchema is the JSON Schema for kvexport.yaml. The token is
// intentionally absent: it may only come from VAULT_TOKEN.
const fileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "address":         { "type": "string", "pattern": "^https?://" },
    "namespace":       { "type": "string" },
    "timeout":         { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" },
    "tls_skip_verify": { "type": "boolean" },
    "ca_cert":         { "type": "string" },
    "concurrency":     { "type": "integer", "minimum": 1, "maximum": 256 },
    "max_depth":       { "type": "integer", "minimum": 1 },
    "output":          { "type": "string" },
    "metrics_file":    { "type": "string" }
  }
}`
