package checkpoint

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// listIndex(run, parent=p) 恰好返回记录父节点为 p 的检查点，不多不少
func TestProperty_ListIndexReturnsExactChildren(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("parent filter matches recorded parents", prop.ForAll(
		func(choices []int) bool {
			ctx := context.Background()
			store := NewMemoryStore()

			infos := make([]Info, 0, len(choices))
			parents := make([]int, 0, len(choices))
			for i, c := range choices {
				// 0 表示根节点，k>0 表示以第 k-1 个检查点为父
				p := c%(i+1) - 1
				var parent *Info
				if p >= 0 {
					parent = &infos[p]
				}
				info, err := store.Commit(ctx, "run-prop", testValue(i), parent)
				if err != nil {
					t.Logf("commit failed: %v", err)
					return false
				}
				infos = append(infos, info)
				parents = append(parents, p)
			}

			for i := range infos {
				got, err := store.ListIndex(ctx, "run-prop", &infos[i])
				if err != nil {
					return false
				}
				var want []Info
				for j, p := range parents {
					if p == i {
						want = append(want, infos[j])
					}
				}
				if len(got) != len(want) {
					t.Logf("node %d: expected %d children, got %d", i, len(want), len(got))
					return false
				}
				for k := range want {
					if got[k] != want[k] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
