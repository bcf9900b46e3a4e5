//go:build property

package recompile

import (
	"context"
	"testing"

	"github.com/conneroisu/ssrdev/internal/artifact"
	"github.com/conneroisu/ssrdev/internal/compiler"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestStaleToleranceProperties feeds random sequences of loadable and broken
// artifacts and checks the serving renderer is always the last loadable one.
func TestStaleToleranceProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("current handle is the last pass that loaded", prop.ForAll(
		func(outcomes []bool) bool {
			store := artifact.NewStore()
			m := NewManager(store, fakeLoader(), nil)

			var lastGood uint64
			for i, ok := range outcomes {
				contents := "broken"
				if ok {
					contents = "ok:page"
				}
				if err := store.Write(pathKey, []byte(contents)); err != nil {
					return false
				}
				id := uint64(i + 1)
				pass := passFor(id)
				if _, err := m.HandlePass(context.Background(), pass); (err == nil) != ok {
					return false
				}
				if ok {
					lastGood = id
				}

				cur := m.Current()
				if lastGood == 0 {
					if cur != nil {
						return false
					}
					continue
				}
				if cur == nil || cur.Pass != lastGood {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("publish returns the handle it replaced", prop.ForAll(
		func(n int) bool {
			m := NewManager(artifact.NewStore(), fakeLoader(), nil)
			var prev *Handle
			for i := 1; i <= n; i++ {
				h := &Handle{Renderer: &fakeRenderer{}, Pass: uint64(i)}
				if got := m.Publish(h); got != prev {
					return false
				}
				prev = h
			}
			return m.Current() == prev
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func passFor(id uint64) compiler.Pass {
	return compiler.Pass{
		ID:      id,
		Kind:    compiler.PassSuccess,
		PathKey: pathKey,
		Stats:   compiler.Stats{Emitted: true},
	}
}
