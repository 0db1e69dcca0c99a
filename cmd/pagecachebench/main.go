// Command pagecachebench exercises a Cache against a backing
// PhysicalMemory and reports hit/miss counts and throughput. It doubles
// as a worked example of wiring pagecacheconf, memsource, and
// pagecachelog together outside of tests.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zhukovaskychina/pagecache"
	"github.com/zhukovaskychina/pagecache/memsource"
	"github.com/zhukovaskychina/pagecache/pagecacheconf"
	"github.com/zhukovaskychina/pagecache/pagecachelog"
)

func main() {
	configPath := flag.String("config", "", "path to an INI config file (optional; defaults are used otherwise)")
	snapshotPath := flag.String("snapshot", "", "path to a memory snapshot to read from instead of a synthetic backing store")
	backingSize := flag.Int("backing-size", 4<<20, "size in bytes of the synthetic backing store (ignored with -snapshot)")
	requests := flag.Int("requests", 20000, "number of read requests to issue")
	workers := flag.Int("workers", 8, "number of concurrent readers, each with its own cloned Cache")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := pagecacheconf.Load(*configPath)
		if err != nil {
			pagecachelog.Log.WithError(err).Fatal("pagecachebench: failed to load config")
		}
		cfg = loaded
	}

	var mem pagecache.PhysicalMemory
	if *snapshotPath != "" {
		src, err := memsource.OpenSnapshot(*snapshotPath)
		if err != nil {
			pagecachelog.Log.WithError(err).Fatal("pagecachebench: failed to open snapshot")
		}
		mem = src
	} else {
		dummy := memsource.NewDummy(*backingSize)
		dummy.FillRamp(0, *backingSize, 64)
		mem = dummy
	}

	base := pagecache.New(cfg.PageSize, cfg.TotalSize, cfg.PageTypeMask(), cfg.NewValidator)
	pagecachelog.Log.WithFields(map[string]interface{}{
		"page_size":  cfg.PageSize,
		"total_size": cfg.TotalSize,
		"validator":  cfg.ValidatorKind,
		"workers":    *workers,
		"requests":   *requests,
	}).Info("pagecachebench: starting run")

	start := time.Now()
	var wg sync.WaitGroup
	var hits, misses, failed counter

	perWorker := *requests / *workers
	for w := 0; w < *workers; w++ {
		cache := base.Clone()
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(id, cache, mem, perWorker, &hits, &misses, &failed)
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := hits.get() + misses.get()
	fmt.Printf("pagecachebench: %d requests across %d workers in %s\n", total, *workers, elapsed)
	fmt.Printf("  hits=%d misses=%d failed=%d\n", hits.get(), misses.get(), failed.get())
	if total > 0 {
		fmt.Printf("  throughput=%.0f req/s hit_rate=%.1f%%\n",
			float64(total)/elapsed.Seconds(), 100*float64(hits.get())/float64(total))
	}
	if failed.get() > 0 {
		os.Exit(1)
	}
}

// runWorker issues perWorker reads at overlapping addresses so repeat
// reads land on slots already warmed by earlier ones in the same run.
// A successful read counts as a hit when this worker already read its
// page earlier and as a miss otherwise; OnFail callbacks and returned
// errors count as failed.
func runWorker(id int, cache *pagecache.Cache, mem pagecache.PhysicalMemory, n int, hits, misses, failed *counter) {
	pageSize := cache.PageSize()
	out := make([]byte, 32)

	var seen map[pagecache.Address]bool
	if pageSize > 0 {
		seen = make(map[pagecache.Address]bool)
	}

	for i := 0; i < n; i++ {
		addr := pagecache.Address(uint64(id)*0x100000 + uint64(i%256)*64)
		req := pagecache.ReadRequest{
			Addr: pagecache.PhysicalAddress{Addr: addr, PageType: pagecache.PageReadOnly, PageSize: pageSize},
			Out:  out,
		}

		repeat := pageSize > 0 && seen[addr.AlignDown(pageSize)]
		if pageSize > 0 {
			seen[addr.AlignDown(pageSize)] = true
		}

		err := cache.CachedRead(mem, pagecache.MemOps{
			In: []pagecache.ReadRequest{req},
			OnOK: func(interface{}, []byte) {
				if repeat {
					hits.inc()
				} else {
					misses.inc()
				}
			},
			OnFail: func(interface{}, []byte) { failed.inc() },
		})
		if err != nil {
			failed.inc()
		}
	}
}

func defaultConfig() *pagecacheconf.Config {
	cfg, err := pagecacheconf.Load(os.DevNull)
	if err != nil {
		// os.DevNull parses as an empty INI file, so Load's own defaults
		// apply; a failure here would mean the defaults changed shape.
		pagecachelog.Log.WithError(err).Fatal("pagecachebench: unexpected default config error")
	}
	return cfg
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
