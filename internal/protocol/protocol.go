// Package protocol defines the pluggable wire codecs a connection speaks.
//
// A Factory encodes requests for the workload generators and clones a fresh
// Parser per connection. Parsers are fed raw bytes as they arrive and report
// whether a complete response is present, more data is needed, or the stream
// is malformed.
package protocol

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Status classifies a complete response.
type Status int

const (
	// StatusOk is a response the protocol considers successful, including
	// benign misses such as a null bulk reply.
	StatusOk Status = iota
	// StatusError is a well-formed response carrying a protocol-level error.
	StatusError
)

// Verdict is the parser's judgement of the buffered bytes.
type Verdict int

const (
	// VerdictNeedMore means no complete response is buffered yet.
	VerdictNeedMore Verdict = iota
	// VerdictComplete means one response was parsed; consumed reports its length.
	VerdictComplete
	// VerdictMalformed means the stream cannot be a valid response. The
	// connection must be closed.
	VerdictMalformed
)

// Parser consumes the byte stream of one connection. Implementations are not
// safe for concurrent use; every connection gets its own instance.
type Parser interface {
	// Parse inspects data, which always starts at a response boundary.
	// On VerdictComplete, consumed is the byte length of the parsed
	// response and status its classification. For other verdicts consumed
	// is zero and status is meaningless.
	Parse(data []byte) (consumed int, status Status, verdict Verdict)
}

// Command describes one request for a Factory to encode. Verb is
// protocol-specific; sizes control randomly generated keys and values.
// Weight biases selection when several commands form a workload mix.
type Command struct {
	Verb      string
	KeySize   int
	ValueSize int
	Weight    int
}

// Factory is the per-protocol capability object. One Factory serves the
// whole process; New clones a parser per connection.
type Factory interface {
	Name() string
	New() Parser
	// Encode builds one pre-encoded request payload.
	Encode(cmd Command) ([]byte, error)
	// Prepare returns payloads seeded into the work queue before any
	// generator starts. Most protocols return nothing.
	Prepare() ([][]byte, error)
	// DefaultCommands is the workload mix used when the configuration
	// does not declare one.
	DefaultCommands() []Command
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.Name()] = f
}

// Lookup returns the Factory for name. Unknown names are a configuration
// error reported before any network activity.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names lists the registered protocol names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomToken builds a random alphanumeric byte string of length n.
func randomToken(n int) []byte {
	if n <= 0 {
		n = 1
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return b
}
