/*
scheduler.go - Nightly accumulator file scheduler

PURPOSE:
  Periodically builds an accumulator file for every configured payer from
  its WAITING mappings and writes it to the outbound directory, where the
  payer transfer job picks it up.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - One file per payer per run; payers with nothing to report are skipped
  - A failing payer is logged and does not stop the others
  - Mappings that fail to build stay WAITING for the next run

CONFIGURATION:
  - CheckInterval: How often to run (default: 24 hours)
  - OutputDir: Where files are written
  - Payers: Which payers to build for

USAGE:
  scheduler := NewAccumulationScheduler(builder, dir, payers, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateAccumulationFile endpoint (manual run)
  - accumulation/builder.go: BuildFile
*/
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/benefits-engine/accumulation"
)

// FileBuilder builds one accumulator file.
type FileBuilder interface {
	BuildFile(ctx context.Context, payer accumulation.PayerName, now time.Time) (accumulation.File, error)
}

// AccumulationScheduler writes accumulator files on a fixed interval.
type AccumulationScheduler struct {
	Builder       FileBuilder
	OutputDir     string
	Payers        []accumulation.PayerName
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	now     func() time.Time
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	nextRun time.Time
}

func NewAccumulationScheduler(builder FileBuilder, outputDir string, payers []accumulation.PayerName, log zerolog.Logger) *AccumulationScheduler {
	return &AccumulationScheduler{
		Builder:       builder,
		OutputDir:     outputDir,
		Payers:        payers,
		CheckInterval: 24 * time.Hour,
		Enabled:       outputDir != "",
		log:           log.With().Str("component", "accumulation_scheduler").Logger(),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *AccumulationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.nextRun = s.now().Add(s.CheckInterval)
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.CheckInterval).Str("output_dir", s.OutputDir).Msg("started")
}

// Stop stops the scheduler and waits for a run in progress. The lock is
// released before waiting since run takes it after each pass.
func (s *AccumulationScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker = nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.log.Info().Msg("stopped")
}

func (s *AccumulationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
			s.mu.Lock()
			s.nextRun = s.now().Add(s.CheckInterval)
			s.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// RunNow builds and writes one file per payer. It returns the paths
// written.
func (s *AccumulationScheduler) RunNow(ctx context.Context) []string {
	now := s.now().UTC()
	var written []string
	for _, payer := range s.Payers {
		path, err := s.writeFile(ctx, payer, now)
		if err != nil {
			s.log.Error().Err(err).Str("payer", string(payer)).Msg("accumulation file failed")
			continue
		}
		if path != "" {
			written = append(written, path)
		}
	}
	return written
}

func (s *AccumulationScheduler) writeFile(ctx context.Context, payer accumulation.PayerName, now time.Time) (string, error) {
	file, err := s.Builder.BuildFile(ctx, payer, now)
	if err != nil {
		return "", err
	}
	log := s.log.With().Str("payer", string(payer)).Str("file_name", file.Name).Logger()
	if len(file.Details) == 0 {
		log.Debug().Int("skipped", len(file.Skipped)).Msg("nothing to report")
		return "", nil
	}

	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(s.OutputDir, file.Name)
	if err := os.WriteFile(path, file.Content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	log.Info().Int("records", len(file.Details)).Int("skipped", len(file.Skipped)).Msg("accumulation file written")
	return path, nil
}

// NextRunTime returns when the next scheduled run will occur.
func (s *AccumulationScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}
