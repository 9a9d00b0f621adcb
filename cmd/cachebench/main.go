// Command cachebench drives setcache.Cache with synthetic uint64 keys
// under a configurable access distribution and reports hit/eviction
// stats, plus per-Get latency percentiles. Flag-based CLI grounded on
// cmd/srv/server.go's flag.* idiom.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	tdigest "github.com/caio/go-tdigest"
	"github.com/apoorvam/goterminal"
	"github.com/glycerine/idem"

	"github.com/glycerine/vsrclient/setcache"
)

type record struct {
	Key uint64
	Val uint64
}

func identityHash(k uint64) uint64 { return k }

func main() {
	ways := flag.Int("ways", 4, "associativity (2, 4, or 16)")
	tagBits := flag.Uint("tagbits", 16, "tag width in bits (8 or 16)")
	clockBits := flag.Uint("clockbits", 2, "CLOCK counter width in bits (1, 2, or 4)")
	lineSize := flag.Int("line", 64, "cache_line_size in bytes")
	capacity := flag.Int("cap", 1024, "value_count_max, must be a power of two and a multiple of -ways")
	universe := flag.Uint64("universe", 8192, "distinct key universe size; larger than -cap forces eviction")
	ops := flag.Int("ops", 200_000, "number of Get/Put operations to run")
	putRatio := flag.Float64("putratio", 0.2, "probability that a Get miss is followed by a Put of that key")
	seed := flag.Uint64("seed", 1, "PRNG seed")
	quiet := flag.Bool("quiet", false, "suppress live progress output")
	flag.Parse()

	halt := idem.NewHalter()
	defer halt.Done.Close()

	cache, err := setcache.New(setcache.Config[uint64, record]{
		Ways:          *ways,
		TagBits:       *tagBits,
		ClockBits:     *clockBits,
		CacheLineSize: *lineSize,
		ValueCountMax: *capacity,
		KeySize:       8,
		ValueSize:     16,
		Hash:          identityHash,
		KeyFromValue:  func(r record) uint64 { return r.Key },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachebench: bad layout: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	latency, err := tdigest.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachebench: tdigest.New: %v\n", err)
		os.Exit(1)
	}

	prng := rand.New(rand.NewPCG(*seed, *seed^0xdeadbeef))

	var term *goterminal.Writer
	if !*quiet {
		term = goterminal.New(os.Stdout)
	}

	t0 := time.Now()
	reportEvery := *ops / 100
	if reportEvery == 0 {
		reportEvery = 1
	}

	for i := 0; i < *ops; i++ {
		select {
		case <-halt.ReqStop.Chan:
			break
		default:
		}

		key := prng.Uint64() % *universe
		start := time.Now()
		_, ok := cache.Get(key)
		latency.Add(float64(time.Since(start).Nanoseconds()))
		if !ok {
			if prng.Float64() < *putRatio {
				cache.Put(record{Key: key, Val: prng.Uint64()})
			}
		}

		if term != nil && i%reportEvery == 0 {
			term.Clear()
			term.Write([]byte(fmt.Sprintf("cachebench: %d/%d ops, hits=%d misses=%d evictions=%d\n",
				i, *ops, cache.Metrics.Hits, cache.Metrics.Misses, cache.Metrics.Evictions)))
			term.Print()
		}
	}

	elapsed := time.Since(t0)
	fmt.Printf("\ncachebench: %d ops in %v\n", *ops, elapsed)
	fmt.Printf("hits=%d misses=%d evictions=%d inserts=%d hit_rate=%.4f\n",
		cache.Metrics.Hits, cache.Metrics.Misses, cache.Metrics.Evictions, cache.Metrics.Inserts,
		float64(cache.Metrics.Hits)/float64(cache.Metrics.Hits+cache.Metrics.Misses))
	fmt.Printf("Get latency (ns): p50=%.0f p95=%.0f p99=%.0f\n",
		latency.Quantile(0.5), latency.Quantile(0.95), latency.Quantile(0.99))
}
