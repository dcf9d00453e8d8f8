package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"zhiminhu/p2p-stream/pkg/logger"
	"zhiminhu/p2p-stream/pkg/stats"
)

const (
	pushPeriod = 1 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Source yields the node's current counters. Satisfied by stats.Collector.
type Source interface {
	Snapshot() stats.Snapshot
}

// Server exposes a read-only view of one node's stats over HTTP: a JSON
// endpoint for polling and a websocket that pushes a fresh snapshot every
// second. It observes the node, it never steers it.
type Server struct {
	src Source
	srv *http.Server
}

func New(addr string, src Source) *Server {
	s := &Server{src: src}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		logger.Sugar.Infof("[Dashboard] serving on http://%s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar.Errorf("[Dashboard] %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.src.Snapshot()); err != nil {
		logger.Sugar.Debugf("[Dashboard] encode stats: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Warnf("[Dashboard] upgrade failed: %v", err)
		return
	}
	logger.Sugar.Infof("[Dashboard] websocket client %s connected", conn.RemoteAddr())

	// Drain control frames and detect the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		ticker := time.NewTicker(pushPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
					return
				}
			}
		}
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>p2p-stream node</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { font-size: 1.2em; }
td { padding: 2px 12px 2px 0; }
</style>
</head>
<body>
<h1>p2p-stream node</h1>
<table id="t"></table>
<script>
const t = document.getElementById('t');
function render(s) {
  t.innerHTML = '';
  for (const [k, v] of Object.entries(s)) {
    const row = t.insertRow();
    row.insertCell().textContent = k;
    row.insertCell().textContent = typeof v === 'object' ? JSON.stringify(v) : v;
  }
}
const ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = (e) => render(JSON.parse(e.data));
ws.onerror = () => setInterval(async () => {
  render(await (await fetch('/api/stats')).json());
}, 1000);
</script>
</body>
</html>
`
