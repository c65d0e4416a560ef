package proxy

import (
	"net/http"
	"time"
)

// ConnInfo describes a captured request as soon as it has been read.
type ConnInfo struct {
	ID          string
	Host        string
	URL         string
	Method      string
	RequestBody []byte
	StartedAt   time.Time
}

// Exchange is the final event of a captured request/response pair. The body
// itself was delivered through ResponseChunk.
type Exchange struct {
	ID          string
	Host        string
	URL         string
	Status      int
	Header      http.Header
	CompletedAt time.Time
}

// Observer receives capture events. Calls for one exchange arrive in order
// on that connection's goroutine; different exchanges run concurrently.
type Observer interface {
	ConnectionOpened(info ConnInfo)
	ResponseChunk(id string, chunk []byte)
	ResponseComplete(ex Exchange)
}
