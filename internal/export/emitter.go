package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/systmms/kvexport/internal/vault"
)

// Emitter writes records as newline-delimited JSON, one object per line.
// Writes are serialized so concurrent walkers never interleave lines.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Emitter{enc: enc}
}

// Emit writes rec immediately. An error means the output stream is broken.
func (e *Emitter) Emit(rec vault.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write record for '%s': %w", rec.Path, err)
	}
	return nil
}
