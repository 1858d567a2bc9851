package protocol

import "bytes"

func init() { register(echoFactory{}) }

// echoFactory speaks a minimal line protocol: the client sends PING and the
// server is expected to answer PONG. Any other complete line counts as an
// error response. Useful mostly as a smoke-test workload.
type echoFactory struct{}

func (echoFactory) Name() string { return "echo" }

func (echoFactory) New() Parser { return &echoParser{} }

func (echoFactory) Encode(cmd Command) ([]byte, error) {
	return []byte("PING\r\n"), nil
}

func (echoFactory) Prepare() ([][]byte, error) { return nil, nil }

func (echoFactory) DefaultCommands() []Command {
	return []Command{{Verb: "ping"}}
}

// maxEchoLine bounds how many bytes may arrive without a line terminator
// before the stream is declared malformed.
const maxEchoLine = 4096

type echoParser struct{}

func (*echoParser) Parse(data []byte) (int, Status, Verdict) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(data) > maxEchoLine {
			return 0, StatusError, VerdictMalformed
		}
		return 0, StatusOk, VerdictNeedMore
	}

	line := bytes.TrimRight(data[:idx], "\r")
	status := StatusOk
	if !bytes.Equal(line, []byte("PONG")) {
		status = StatusError
	}
	return idx + 1, status, VerdictComplete
}
