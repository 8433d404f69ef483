// Package stash is a content-addressed build-output cache: given a key
// derived from a unit of work's declared inputs, it stores the packed
// result of executing that work so a future run with an identical key
// can skip execution and restore outputs directly.
//
// The cache is two-tiered. The local tier is a write-once directory of
// archives; the remote tier is any byte key-value backend reachable
// over a boundary that may fail independently (an HTTP endpoint or a
// shared directory). Entries are immutable once written: there is no
// update-in-place, no versioning, and no partial reads.
//
// # Quick Start
//
//	c, err := stash.New(stash.Config{
//	    Local: stash.LocalConfig{Enabled: true, Directory: "/var/cache/stash"},
//	})
//	if err != nil {
//	    return err
//	}
//	task := stash.Task{
//	    Name: "//pkg/api:compile",
//	    Outputs: []stash.Output{
//	        {Name: "bin", Path: "out/api", Kind: stash.KindFile},
//	    },
//	}
//	res, err := c.Run(ctx, key, task, func(ctx context.Context) error {
//	    return compile(ctx)
//	})
//
// Run checks the local tier, then the remote tier, and only executes on
// a full miss, packing and storing the outputs afterwards. TryLoad and
// PackAndStore expose the two halves separately for orchestrators that
// own their own execution step.
//
// # Corruption handling
//
// A corrupt local entry is quarantined into a retained "failed"
// namespace and the run falls back to execution, so local corruption is
// self-healing. A corrupt remote entry fails the run without touching
// the local store: a bad remote artifact usually signals a systemic
// problem the operator must see, and must never pollute the local tier.
// Pack and execution failures never produce or push a cache entry.
package stash
