package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

func init() { register(redisFactory{}) }

// redisFactory encodes RESP array-form commands and parses the full RESP
// reply grammar (simple string, error, integer, bulk, array). A null bulk
// reply is a cache miss and still counts as a successful response.
type redisFactory struct{}

func (redisFactory) Name() string { return "redis" }

func (redisFactory) New() Parser { return &redisParser{} }

func (redisFactory) Encode(cmd Command) ([]byte, error) {
	switch cmd.Verb {
	case "get":
		key := randomToken(cmd.KeySize)
		return respCommand([]byte("GET"), key), nil
	case "set":
		key := randomToken(cmd.KeySize)
		value := randomToken(cmd.ValueSize)
		return respCommand([]byte("SET"), key, value), nil
	case "ping":
		return respCommand([]byte("PING")), nil
	default:
		return nil, fmt.Errorf("redis: unknown command verb %q", cmd.Verb)
	}
}

func (redisFactory) Prepare() ([][]byte, error) { return nil, nil }

func (redisFactory) DefaultCommands() []Command {
	return []Command{
		{Verb: "get", KeySize: 16, Weight: 8},
		{Verb: "set", KeySize: 16, ValueSize: 64, Weight: 2},
	}
}

func respCommand(args ...[]byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&buf, "$%d\r\n", len(arg))
		buf.Write(arg)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

type redisParser struct{}

func (*redisParser) Parse(data []byte) (int, Status, Verdict) {
	return parseRESP(data)
}

// respLine returns the bytes before the first CRLF and the total length of
// the line including the terminator.
func respLine(data []byte) (line []byte, total int, ok bool) {
	idx := bytes.Index(data, []byte("\r\n"))
	if idx < 0 {
		return nil, 0, false
	}
	return data[:idx], idx + 2, true
}

func parseRESP(data []byte) (int, Status, Verdict) {
	if len(data) == 0 {
		return 0, StatusOk, VerdictNeedMore
	}

	switch data[0] {
	case '+':
		_, total, ok := respLine(data)
		if !ok {
			return 0, StatusOk, VerdictNeedMore
		}
		return total, StatusOk, VerdictComplete

	case '-':
		_, total, ok := respLine(data)
		if !ok {
			return 0, StatusOk, VerdictNeedMore
		}
		return total, StatusError, VerdictComplete

	case ':':
		line, total, ok := respLine(data)
		if !ok {
			return 0, StatusOk, VerdictNeedMore
		}
		if _, err := strconv.ParseInt(string(line[1:]), 10, 64); err != nil {
			return 0, StatusError, VerdictMalformed
		}
		return total, StatusOk, VerdictComplete

	case '$':
		line, header, ok := respLine(data)
		if !ok {
			return 0, StatusOk, VerdictNeedMore
		}
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil || n < -1 {
			return 0, StatusError, VerdictMalformed
		}
		if n == -1 {
			// Null bulk: key absent, still a successful reply.
			return header, StatusOk, VerdictComplete
		}
		total := header + n + 2
		if len(data) < total {
			return 0, StatusOk, VerdictNeedMore
		}
		if data[total-2] != '\r' || data[total-1] != '\n' {
			return 0, StatusError, VerdictMalformed
		}
		return total, StatusOk, VerdictComplete

	case '*':
		line, header, ok := respLine(data)
		if !ok {
			return 0, StatusOk, VerdictNeedMore
		}
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil || n < -1 {
			return 0, StatusError, VerdictMalformed
		}
		if n <= 0 {
			return header, StatusOk, VerdictComplete
		}
		offset := header
		status := StatusOk
		for i := 0; i < n; i++ {
			consumed, elemStatus, verdict := parseRESP(data[offset:])
			if verdict != VerdictComplete {
				return 0, StatusOk, verdict
			}
			if elemStatus == StatusError {
				status = StatusError
			}
			offset += consumed
		}
		return offset, status, VerdictComplete

	default:
		return 0, StatusError, VerdictMalformed
	}
}
