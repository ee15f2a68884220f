package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wedaly/caesium/internal/cliclient"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/wire"
)

// runInsert generates synthetic windows for a set of metrics and sends
// them to a server's insert socket, to exercise the write path under
// load without a real statsd daemon.
func runInsert(args []string) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7878", "server insert address")
	metrics := fs.Int("metrics", 10, "number of distinct metric names to generate")
	windows := fs.Int("windows", 60, "number of sequential windows per metric")
	windowSize := fs.Uint64("window-size", 30, "window size in seconds")
	samplesPerWindow := fs.Int("samples", 1000, "observations per window's sketch")
	concurrency := fs.Int("concurrency", 4, "number of concurrent sending goroutines")
	fs.Parse(args)

	client := cliclient.New(*addr)

	names := make([]string, *metrics)
	for i := range names {
		names[i] = fmt.Sprintf("load.metric.%03d", i)
	}

	var sent, conflicts, failed atomic.Int64
	jobs := make(chan int, len(names))
	for i := range names {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for idx := range jobs {
				metric := names[idx]
				start := uint64(0)
				for win := 0; win < *windows; win++ {
					end := start + *windowSize
					sk := quantile.New()
					for s := 0; s < *samplesPerWindow; s++ {
						sk.Insert(uint64(rng.Intn(1000)))
					}
					sketchBytes, err := sk.MarshalBinary()
					if err != nil {
						failed.Add(1)
						continue
					}
					status, err := client.Insert(metric, start, end, sketchBytes)
					if err != nil {
						failed.Add(1)
					} else if status == wire.InsertConflict {
						conflicts.Add(1)
					} else if status != wire.InsertOK {
						failed.Add(1)
					} else {
						sent.Add(1)
					}
					start = end
				}
			}
		}()
	}
	wg.Wait()

	fmt.Printf("sent=%d conflicts=%d failed=%d\n", sent.Load(), conflicts.Load(), failed.Load())
	return nil
}
