package replica

import (
	"sort"

	"github.com/wesleyyan-sb/kvsync/internal/vlog"
)

// Remote pairs a named Log with this replica's last-applied cursor into
// it, the per-remote bookkeeping the sync loop needs (spec.md §4.6).
type Remote struct {
	Name   string
	Log    vlog.Log
	cursor vlog.Cursor
}

// sortedRemotes returns remotes in the deterministic lexicographic order
// spec.md §4.6 requires ("identical across devices ... [to avoid]
// perpetual fetch/push cycles").
func sortedRemotes(remotes []*Remote) []*Remote {
	out := append([]*Remote(nil), remotes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
