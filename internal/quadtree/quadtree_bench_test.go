package quadtree

import (
	"fmt"
	"math/rand"
	"testing"
)

func randomPoints(n int, seed int64) []Point {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{X: rng.Float64() * 10000, Y: rng.Float64() * 10000, Index: i}
	}
	return pts
}

func BenchmarkBuild(b *testing.B) {
	for _, n := range []int{100, 1000, 10000, 50000} {
		pts := randomPoints(n, 42)
		b.Run(fmt.Sprintf("N=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				New(pts)
			}
		})
	}
}

func BenchmarkVisit(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		tree := New(randomPoints(n, 42))
		b.Run(fmt.Sprintf("N=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				var leaves int
				tree.Visit(func(nd *Node, x0, y0, x1, y1 float64) bool {
					if nd.Leaf() {
						leaves++
					}
					return false
				})
			}
		})
	}
}
