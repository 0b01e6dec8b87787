package tracing

import (
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultHeader is the request header used to look up the trace ID of incoming requests
// when no other header is configured.
const DefaultHeader = "x-trace-id"

// Generator generates new trace IDs. It must be safe for concurrent use and never return
// an empty string.
type Generator func() string

// NewID generates a new trace ID as a UUID v7, which embeds a millisecond timestamp on
// its prefix so IDs sort roughly by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only fails if the random source fails, a random UUID is still unique.
		return uuid.NewString()
	}
	return id.String()
}

var (
	ulidEntropy     = ulid.Monotonic(rand.Reader, 0)
	ulidEntropyLock sync.Mutex
)

// NewULID generates a new trace ID as a ULID: time ordered, lexicographically sortable
// and shorter than a UUID (26 chars). IDs generated on the same millisecond are monotonic.
func NewULID() string {
	ulidEntropyLock.Lock()
	defer ulidEntropyLock.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		// Monotonic entropy overflowed within the same millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

// IDFromHeader resolves the trace ID of a request. The value of the header with the given
// name is used verbatim if it is valid, otherwise a new ID is generated with gen.
// Missing, blank or malformed header values are not errors, they are handled as absent.
// The returned bool reports if the ID was generated.
func IDFromHeader(header http.Header, name string, gen Generator) (string, bool) {
	if v := header.Get(name); validID(v) {
		return v, false
	}
	return gen(), true
}

func validID(v string) bool {
	if strings.TrimSpace(v) == "" || !utf8.ValidString(v) {
		return false
	}
	return strings.IndexFunc(v, unicode.IsControl) == -1
}
