package cluster

import "sync"

// workspace holds the per-pair buffers used while clustering one mask.
type workspace struct {
	points    []point
	tree      []point
	labels    []int
	queue     []int
	neighbors []int
}

var workspacePool = sync.Pool{
	New: func() interface{} {
		return &workspace{}
	},
}

func getWorkspace() *workspace {
	return workspacePool.Get().(*workspace)
}

// putWorkspace truncates the buffers and returns them to the pool. Very
// large buffers are dropped so a single huge mask does not pin memory.
func putWorkspace(ws *workspace) {
	if ws.oversized() {
		*ws = workspace{}
	}
	ws.points = ws.points[:0]
	ws.tree = ws.tree[:0]
	ws.labels = ws.labels[:0]
	ws.queue = ws.queue[:0]
	ws.neighbors = ws.neighbors[:0]
	workspacePool.Put(ws)
}

const maxPooledPoints = 1 << 20

func (ws *workspace) oversized() bool {
	return cap(ws.points) > maxPooledPoints ||
		cap(ws.tree) > maxPooledPoints ||
		cap(ws.labels) > maxPooledPoints ||
		cap(ws.queue) > maxPooledPoints ||
		cap(ws.neighbors) > maxPooledPoints
}
