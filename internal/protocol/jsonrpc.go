package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

func init() { register(jsonrpcFactory{}) }

// jsonrpcFactory speaks newline-delimited JSON-RPC 2.0. Each request carries
// a ulid id; a response with an error member classifies as an error outcome,
// a line that is not valid JSON closes the connection as malformed.
type jsonrpcFactory struct{}

func (jsonrpcFactory) Name() string { return "jsonrpc" }

func (jsonrpcFactory) New() Parser { return &jsonrpcParser{} }

type jsonrpcRequest struct {
	Version string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

func (jsonrpcFactory) Encode(cmd Command) ([]byte, error) {
	if cmd.Verb == "" {
		return nil, fmt.Errorf("jsonrpc: empty method verb")
	}

	req := jsonrpcRequest{
		Version: "2.0",
		ID:      ulid.Make().String(),
		Method:  cmd.Verb,
	}
	if cmd.KeySize > 0 {
		req.Params = map[string]any{"key": string(randomToken(cmd.KeySize))}
		if cmd.ValueSize > 0 {
			req.Params["value"] = string(randomToken(cmd.ValueSize))
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode %q: %w", cmd.Verb, err)
	}
	return append(payload, '\n'), nil
}

func (jsonrpcFactory) Prepare() ([][]byte, error) { return nil, nil }

func (jsonrpcFactory) DefaultCommands() []Command {
	return []Command{{Verb: "ping"}}
}

// maxJSONLine bounds a single response line; anything longer without a
// newline is treated as a runaway stream.
const maxJSONLine = 1 << 20

type jsonrpcParser struct{}

func (*jsonrpcParser) Parse(data []byte) (int, Status, Verdict) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(data) > maxJSONLine {
			return 0, StatusError, VerdictMalformed
		}
		return 0, StatusOk, VerdictNeedMore
	}

	line := bytes.TrimSpace(data[:idx])
	if len(line) == 0 || !gjson.ValidBytes(line) {
		return 0, StatusError, VerdictMalformed
	}

	status := StatusOk
	if gjson.GetBytes(line, "error").Exists() {
		status = StatusError
	}
	return idx + 1, status, VerdictComplete
}
