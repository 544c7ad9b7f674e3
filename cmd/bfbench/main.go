// bfbench drives a producer and a set of consumers over one ring and
// reports the sustained throughput. It doubles as an end-to-end smoke
// test of the ring subsystem.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lwa-project/bifrost/internal/logging"
	"github.com/lwa-project/bifrost/memory"
	"github.com/lwa-project/bifrost/ring"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "bfbench",
	Short: "Bifrost ring buffer throughput benchmark",
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _ := logging.Init(&cfg.Logging)
	defer log.Sync()

	space, err := memory.ParseSpace(cfg.Ring.Space)
	if err != nil {
		return err
	}
	opts := []ring.Option{ring.WithLogger(log)}
	if cfg.Ring.Core >= 0 {
		opts = append(opts, ring.WithCore(cfg.Ring.Core))
	}
	r, err := ring.New(cfg.Ring.Name, space, opts...)
	if err != nil {
		return err
	}
	defer r.Destroy()

	gulp := int64(cfg.Ring.GulpSize)
	if err := r.Resize(gulp, gulp*int64(cfg.Ring.BufferFactor), cfg.Ring.NRinglet); err != nil {
		return err
	}

	log.Info("starting benchmark",
		zap.String("ring", r.Name()),
		zap.Stringer("space", space),
		zap.Stringer("gulp", cfg.Ring.GulpSize),
		zap.Int("readers", cfg.Bench.Readers),
		zap.Bool("guarantee", cfg.Bench.Guarantee))

	start := time.Now()
	wg, _ := errgroup.WithContext(context.Background())
	wg.Go(func() error {
		return produce(r, cfg)
	})
	var consumed int64
	for i := 0; i < cfg.Bench.Readers; i++ {
		wg.Go(func() error {
			n, err := consume(r, cfg)
			if i == 0 {
				consumed = n
			}
			return err
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	rate := datasize.ByteSize(float64(consumed) / elapsed.Seconds())
	log.Info("benchmark complete",
		zap.Duration("elapsed", elapsed),
		zap.Stringer("consumed", datasize.ByteSize(consumed)),
		zap.String("rate", rate.HumanReadable()+"/s"))
	return nil
}

func produce(r *ring.Ring, cfg *Config) error {
	w, err := r.BeginWriting()
	if err != nil {
		return err
	}
	defer w.Close()

	gulp := int64(cfg.Ring.GulpSize)
	for i := 0; i < cfg.Bench.Sequences; i++ {
		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint64(hdr, uint64(i))
		seq, err := w.BeginSequence(fmt.Sprintf("bench-%04d", i), int64(i), hdr)
		if err != nil {
			return err
		}
		for g := 0; g < cfg.Bench.GulpsPerSequence; g++ {
			sp, err := seq.Reserve(gulp, false)
			if err != nil {
				return err
			}
			for row := 0; row < sp.NRinglet(); row++ {
				fillPattern(sp.Row(row), byte(g))
			}
			memory.Synchronize()
			if err := sp.Commit(gulp); err != nil {
				return err
			}
		}
		if err := seq.End(); err != nil {
			return err
		}
	}
	return nil
}

func consume(r *ring.Ring, cfg *Config) (int64, error) {
	gulp := int64(cfg.Ring.GulpSize)
	var total int64
	for seq := range r.ReadSequences(cfg.Bench.Guarantee) {
		for sp := range seq.Read(gulp, 0, 0) {
			for row := 0; row < sp.NRinglet(); row++ {
				total += int64(len(sp.Row(row)))
			}
		}
	}
	return total, nil
}

func fillPattern(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i)
	}
}
