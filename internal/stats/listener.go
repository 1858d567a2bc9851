package stats

import (
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// Listener serves cumulative run statistics over HTTP while a run is active.
type Listener struct {
	srv *http.Server
	ln  net.Listener
}

// StartListener binds addr and serves GET /stats (cumulative snapshot) and
// GET /windows (sealed window history) as JSON until Close is called.
func StartListener(addr string, r *Receiver) (*Listener, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Snapshot())
	})
	mux.HandleFunc("/windows", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.History())
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.Serve(ln)
	}()

	return &Listener{srv: srv, ln: ln}, nil
}

// Addr reports the bound address, useful when addr requested port 0.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Close stops serving.
func (l *Listener) Close() error { return l.srv.Close() }
