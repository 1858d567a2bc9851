package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

func init() { register(memcacheFactory{}) }

// memcacheFactory speaks the memcached text protocol. get responses are a
// sequence of VALUE blocks terminated by END; storage responses are a single
// line. ERROR, CLIENT_ERROR and SERVER_ERROR lines classify as error
// outcomes without closing the connection.
type memcacheFactory struct{}

func (memcacheFactory) Name() string { return "memcache" }

func (memcacheFactory) New() Parser { return &memcacheParser{} }

func (memcacheFactory) Encode(cmd Command) ([]byte, error) {
	switch cmd.Verb {
	case "get":
		key := randomToken(cmd.KeySize)
		return []byte(fmt.Sprintf("get %s\r\n", key)), nil
	case "set":
		key := randomToken(cmd.KeySize)
		value := randomToken(cmd.ValueSize)
		return []byte(fmt.Sprintf("set %s 0 0 %d\r\n%s\r\n", key, len(value), value)), nil
	case "version":
		return []byte("version\r\n"), nil
	default:
		return nil, fmt.Errorf("memcache: unknown command verb %q", cmd.Verb)
	}
}

func (memcacheFactory) Prepare() ([][]byte, error) { return nil, nil }

func (memcacheFactory) DefaultCommands() []Command {
	return []Command{
		{Verb: "get", KeySize: 16, Weight: 8},
		{Verb: "set", KeySize: 16, ValueSize: 64, Weight: 2},
	}
}

type memcacheParser struct{}

var memcacheErrorPrefixes = [][]byte{
	[]byte("ERROR"),
	[]byte("CLIENT_ERROR"),
	[]byte("SERVER_ERROR"),
}

var memcacheLineReplies = [][]byte{
	[]byte("STORED"),
	[]byte("NOT_STORED"),
	[]byte("EXISTS"),
	[]byte("NOT_FOUND"),
	[]byte("DELETED"),
	[]byte("TOUCHED"),
	[]byte("OK"),
	[]byte("END"),
}

func (*memcacheParser) Parse(data []byte) (int, Status, Verdict) {
	offset := 0
	for {
		line, lineLen, ok := respLine(data[offset:])
		if !ok {
			if len(data)-offset > maxEchoLine {
				return 0, StatusError, VerdictMalformed
			}
			return 0, StatusOk, VerdictNeedMore
		}

		if bytes.HasPrefix(line, []byte("VALUE ")) {
			// VALUE <key> <flags> <bytes> [cas]\r\n<data>\r\n ... END\r\n
			fields := bytes.Fields(line)
			if len(fields) < 4 {
				return 0, StatusError, VerdictMalformed
			}
			n, err := strconv.Atoi(string(fields[3]))
			if err != nil || n < 0 {
				return 0, StatusError, VerdictMalformed
			}
			blockEnd := offset + lineLen + n + 2
			if len(data) < blockEnd {
				return 0, StatusOk, VerdictNeedMore
			}
			if data[blockEnd-2] != '\r' || data[blockEnd-1] != '\n' {
				return 0, StatusError, VerdictMalformed
			}
			offset = blockEnd
			continue
		}

		if bytes.HasPrefix(line, []byte("VERSION ")) {
			return offset + lineLen, StatusOk, VerdictComplete
		}

		for _, prefix := range memcacheErrorPrefixes {
			if bytes.HasPrefix(line, prefix) {
				return offset + lineLen, StatusError, VerdictComplete
			}
		}

		for _, reply := range memcacheLineReplies {
			if bytes.Equal(line, reply) {
				return offset + lineLen, StatusOk, VerdictComplete
			}
		}

		// A VALUE sequence must end in END; any other line mid-sequence
		// or as a standalone reply is not valid protocol.
		return 0, StatusError, VerdictMalformed
	}
}
