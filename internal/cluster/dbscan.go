// Package cluster groups changed pixels of a difference mask into regions
// with density-based clustering.
package cluster

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"pagediff/pkg/geometry"
)

const (
	// Noise labels points that belong to no cluster.
	Noise = -1

	unvisited = -2
)

// point is a kd-tree entry that remembers its position in the input.
type point struct {
	x, y float64
	idx  int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p point) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

// points implements kdtree.Interface.
type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Pivot(d kdtree.Dim) int        { return plane{points: p, dim: d}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// plane sorts points along one axis for median pivoting.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	if p.dim == 0 {
		return p.points[i].x < p.points[j].x
	}
	return p.points[i].y < p.points[j].y
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }

// DBSCAN labels each point with its cluster number, or Noise. A point is a
// core point when at least minSamples other points lie within eps of it.
// Clusters are numbered from zero in the order their first core point
// appears in the input.
func DBSCAN(pts []geometry.Point2D, eps float64, minSamples int) []int {
	ws := getWorkspace()
	defer putWorkspace(ws)

	for i, p := range pts {
		ws.points = append(ws.points, point{x: p.X, y: p.Y, idx: i})
	}
	run(ws, eps, minSamples)

	labels := make([]int, len(pts))
	copy(labels, ws.labels)
	return labels
}

// run clusters ws.points into ws.labels and returns the cluster count.
func run(ws *workspace, eps float64, minSamples int) int {
	n := len(ws.points)
	ws.labels = growInts(ws.labels, n)
	for i := range ws.labels {
		ws.labels[i] = unvisited
	}
	if n == 0 {
		return 0
	}

	// The tree reorders its backing slice, so it gets a copy.
	ws.tree = append(ws.tree[:0], ws.points...)
	tree := kdtree.New(points(ws.tree), false)
	r2 := eps * eps

	keeper := kdtree.NewDistKeeper(r2)
	neighbors := func(i int) []int {
		keeper.Heap = append(keeper.Heap[:0], kdtree.ComparableDist{Dist: r2})
		tree.NearestSet(keeper, ws.points[i])
		out := ws.neighbors[:0]
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			out = append(out, cd.Comparable.(point).idx)
		}
		ws.neighbors = out
		return out
	}

	// enqueue claims unclaimed neighbours for label. Only unvisited points
	// are queued, so every point enters the queue at most once.
	enqueue := func(nb []int, label int) {
		for _, j := range nb {
			switch ws.labels[j] {
			case Noise:
				ws.labels[j] = label
			case unvisited:
				ws.labels[j] = label
				ws.queue = append(ws.queue, j)
			}
		}
	}

	clusters := 0
	for i := 0; i < n; i++ {
		if ws.labels[i] != unvisited {
			continue
		}
		nb := neighbors(i)
		if len(nb)-1 < minSamples {
			ws.labels[i] = Noise
			continue
		}

		label := clusters
		clusters++
		ws.labels[i] = label
		ws.queue = ws.queue[:0]
		enqueue(nb, label)
		for head := 0; head < len(ws.queue); head++ {
			if nbj := neighbors(ws.queue[head]); len(nbj)-1 >= minSamples {
				enqueue(nbj, label)
			}
		}
	}
	return clusters
}

func growInts(s []int, n int) []int {
	if cap(s) < n {
		return make([]int, n)
	}
	return s[:n]
}

// finiteEps reports whether eps is usable as a search radius.
func finiteEps(eps float64) bool {
	return eps > 0 && !math.IsInf(eps, 0) && !math.IsNaN(eps)
}
