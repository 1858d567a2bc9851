// Command testservers runs throwaway protocol servers for manual rpcfire
// runs and documentation examples. Each mode speaks just enough of the
// protocol to answer the default workload.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"
)

func main() {
	mode := flag.String("mode", "echo", "server mode: echo, redis, memcache, jsonrpc")
	addr := flag.String("addr", "127.0.0.1:9900", "listen address")
	flag.Parse()

	var handler func(net.Conn)
	switch *mode {
	case "echo":
		handler = serveEcho
	case "redis":
		handler = serveRedis
	case "memcache":
		handler = serveMemcache
	case "jsonrpc":
		handler = serveJSONRPC
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("%s server on %s", *mode, ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatalf("accept: %v", err)
		}
		go handler(conn)
	}
}

func serveEcho(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if _, err := conn.Write([]byte("PONG\r\n")); err != nil {
			return
		}
	}
}

// serveRedis understands just enough RESP to answer get, set and ping.
func serveRedis(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if !strings.HasPrefix(line, "*") {
			continue
		}
		var argc int
		fmt.Sscanf(line, "*%d", &argc)
		args := make([]string, 0, argc)
		for i := 0; i < argc; i++ {
			if _, err := r.ReadString('\n'); err != nil { // $<len>
				return
			}
			arg, err := r.ReadString('\n')
			if err != nil {
				return
			}
			args = append(args, strings.TrimRight(arg, "\r\n"))
		}
		if len(args) == 0 {
			continue
		}
		var reply string
		switch strings.ToLower(args[0]) {
		case "ping":
			reply = "+PONG\r\n"
		case "set":
			reply = "+OK\r\n"
		case "get":
			reply = "$-1\r\n"
		default:
			reply = fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func serveMemcache(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var reply string
		switch fields[0] {
		case "get":
			reply = "END\r\n"
		case "set":
			// Consume the data block line.
			if scanner.Scan() {
				reply = "STORED\r\n"
			} else {
				return
			}
		case "version":
			reply = "VERSION 1.6.0\r\n"
		default:
			reply = "ERROR\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func serveJSONRPC(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := `{"jsonrpc":"2.0","id":"0","result":"ok"}` + "\n"
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}
