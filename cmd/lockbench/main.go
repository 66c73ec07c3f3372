package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myuser/xctstore/internal/engine"
	"github.com/myuser/xctstore/internal/metrics"
	"github.com/myuser/xctstore/internal/storage"
	"github.com/myuser/xctstore/internal/thread"
	"github.com/myuser/xctstore/internal/txn"
)

func main() {
	workers := flag.Int("workers", 10, "Number of worker threads")
	keys := flag.Int("keys", 100, "Size of the shared key space")
	duration := flag.Duration("duration", 10*time.Second, "Run duration")
	logPath := flag.String("log", "", "Commit log path (empty = in-memory)")
	metricsAddr := flag.String("metrics", "", "Serve counters on this addr (e.g. :8090)")
	flag.Parse()

	fmt.Printf("lockbench: %d workers, %d keys, %v\n", *workers, *keys, *duration)

	if *metricsAddr != "" {
		go func() {
			http.HandleFunc("/metrics", metrics.Handler)
			log.Printf("metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	eng := engine.New(engine.Options{
		Workers:        *workers,
		BlockPoolDepth: 64,
		CommitLogPath:  *logPath,
	})

	var stop atomic.Bool
	nKeys := *keys

	// Even worker ids read, odd ids write, uniformly random keys. Lock
	// unavailability is absorbed by the store's backoff; a transaction that
	// still loses aborts and begins again.
	benchProc := func(tc *thread.Context, input []byte) error {
		id := int(binary.LittleEndian.Uint32(input))
		rng := rand.New(rand.NewSource(int64(id)))
		mgr := eng.XctManager()
		store := eng.Store()

		for !stop.Load() {
			if err := mgr.Begin(tc, txn.Serializable); err != nil {
				return err
			}
			key := fmt.Appendf(nil, "key-%05d", rng.Intn(nKeys))
			var err error
			if id%2 == 0 {
				_, err = store.Get(context.Background(), tc, key)
				if err == nil || err == storage.ErrNotFound {
					metrics.Inc("bench.reads")
					err = nil
				}
			} else {
				err = store.Put(context.Background(), tc, key, fmt.Appendf(nil, "val-%d", rng.Int()))
				if err == nil {
					metrics.Inc("bench.writes")
				}
			}
			if err != nil && err != storage.ErrLockBusy {
				mgr.Abort(tc)
				return err
			}
			if err == storage.ErrLockBusy {
				metrics.Inc("bench.busy")
			}
			if aerr := mgr.Abort(tc); aerr != nil {
				return aerr
			}
		}
		return nil
	}

	if err := eng.Procs().Register("bench", benchProc); err != nil {
		log.Fatalf("register: %v", err)
	}
	if err := eng.Initialize(); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *workers; i++ {
		input := binary.LittleEndian.AppendUint32(nil, uint32(i))
		sess, ok := eng.Impersonate("bench", input)
		if !ok {
			log.Fatalf("impersonate failed for worker %d", i)
		}
		g.Go(func() error {
			defer sess.Release()
			return sess.Result()
		})
	}

	time.AfterFunc(*duration, func() { stop.Store(true) })

	if err := g.Wait(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	elapsed := time.Since(start)

	if err := eng.Uninitialize(); err != nil {
		log.Fatalf("uninitialize: %v", err)
	}

	snap := metrics.Snapshot()
	total := snap["bench.reads"] + snap["bench.writes"]
	fmt.Println("Benchmark Finished.")
	fmt.Printf("Reads:  %d\n", snap["bench.reads"])
	fmt.Printf("Writes: %d\n", snap["bench.writes"])
	fmt.Printf("Busy:   %d\n", snap["bench.busy"])
	fmt.Printf("Duration: %v\n", elapsed)
	fmt.Printf("Ops/sec: %.2f\n", float64(total)/elapsed.Seconds())
}
