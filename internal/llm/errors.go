package llm

import "errors"

// ErrTypedGenerationUnsupported is returned when the typed fast path is
// requested from a backend that only does free-text completion.
var ErrTypedGenerationUnsupported = errors.New("typed generation not supported by this backend")
