package stats

import (
	"sort"
	"sync"
	"time"
)

// Collector gathers per-node traffic and playback counters. One Collector is
// constructed per node and handed to every component that reports; there is
// no process-wide instance, so multiple nodes can share a process in tests.
// Readers (the dashboard) only ever see copies.
type Collector struct {
	mu    sync.Mutex
	start time.Time

	uploadBytes      int64
	downloadBytes    int64
	downloadBySource map[string]int64

	// Rate window
	lastCalc     time.Time
	lastUpload   int64
	lastDownload int64
	uploadRate   float64
	downloadRate float64

	activePeers   []string
	bufferHealth  int
	bitmapSummary string
	framesEmitted int64
	chunksStored  int64
}

// Snapshot is a read-only copy of the counters, shaped for JSON consumers.
type Snapshot struct {
	UptimeSec        int64            `json:"uptime"`
	UploadRate       float64          `json:"upload_rate"`
	DownloadRate     float64          `json:"download_rate"`
	TotalUpload      int64            `json:"total_upload"`
	TotalDownload    int64            `json:"total_download"`
	ActivePeers      []string         `json:"active_peers"`
	PeerCount        int              `json:"peer_count"`
	BufferHealth     int              `json:"buffer_health"`
	Bitmap           string           `json:"bitmap"`
	FramesEmitted    int64            `json:"frames_emitted"`
	ChunksStored     int64            `json:"chunks_stored"`
	SourceBreakdown  map[string]int64 `json:"source_distribution"`
}

func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		start:            now,
		lastCalc:         now,
		downloadBySource: make(map[string]int64),
	}
}

func (c *Collector) AddUpload(n int) {
	c.mu.Lock()
	c.uploadBytes += int64(n)
	c.mu.Unlock()
}

func (c *Collector) AddDownload(n int, source string) {
	c.mu.Lock()
	c.downloadBytes += int64(n)
	c.downloadBySource[source] += int64(n)
	c.mu.Unlock()
}

func (c *Collector) UpdatePeers(addrs []string) {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	c.mu.Lock()
	c.activePeers = sorted
	c.mu.Unlock()
}

// UpdateBufferHealth records the number of frames buffered but not yet
// emitted. It is the only externally visible trace of incomplete frames.
func (c *Collector) UpdateBufferHealth(frames int) {
	c.mu.Lock()
	c.bufferHealth = frames
	c.mu.Unlock()
}

func (c *Collector) UpdateBitmap(summary string) {
	c.mu.Lock()
	c.bitmapSummary = summary
	c.mu.Unlock()
}

func (c *Collector) AddFrameEmitted() {
	c.mu.Lock()
	c.framesEmitted++
	c.mu.Unlock()
}

func (c *Collector) AddChunkStored() {
	c.mu.Lock()
	c.chunksStored++
	c.mu.Unlock()
}

// Snapshot recomputes throughput rates at most once per second and returns a
// copy of everything.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if dt := now.Sub(c.lastCalc).Seconds(); dt >= 1.0 {
		c.uploadRate = float64(c.uploadBytes-c.lastUpload) / dt
		c.downloadRate = float64(c.downloadBytes-c.lastDownload) / dt
		c.lastUpload = c.uploadBytes
		c.lastDownload = c.downloadBytes
		c.lastCalc = now
	}

	sources := make(map[string]int64, len(c.downloadBySource))
	for k, v := range c.downloadBySource {
		sources[k] = v
	}

	return Snapshot{
		UptimeSec:       int64(now.Sub(c.start).Seconds()),
		UploadRate:      c.uploadRate,
		DownloadRate:    c.downloadRate,
		TotalUpload:     c.uploadBytes,
		TotalDownload:   c.downloadBytes,
		ActivePeers:     append([]string(nil), c.activePeers...),
		PeerCount:       len(c.activePeers),
		BufferHealth:    c.bufferHealth,
		Bitmap:          c.bitmapSummary,
		FramesEmitted:   c.framesEmitted,
		ChunksStored:    c.chunksStored,
		SourceBreakdown: sources,
	}
}
