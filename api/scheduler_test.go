package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefits-engine/accumulation"
)

type fakeBuilder struct {
	files map[accumulation.PayerName]accumulation.File
	errs  map[accumulation.PayerName]error
	calls []accumulation.PayerName
}

func (f *fakeBuilder) BuildFile(_ context.Context, payer accumulation.PayerName, _ time.Time) (accumulation.File, error) {
	f.calls = append(f.calls, payer)
	if err := f.errs[payer]; err != nil {
		return accumulation.File{}, err
	}
	return f.files[payer], nil
}

// slowBuilder signals when a build starts and then takes a while to finish.
type slowBuilder struct {
	started chan struct{}
	once    sync.Once
	delay   time.Duration
}

func (b *slowBuilder) BuildFile(context.Context, accumulation.PayerName, time.Time) (accumulation.File, error) {
	b.once.Do(func() { close(b.started) })
	time.Sleep(b.delay)
	return accumulation.File{}, nil
}

func TestAccumulationScheduler_RunNow(t *testing.T) {
	// GIVEN: ESI with one record, Premera with none, and a failing payer
	// WHEN: Running the scheduler once
	// THEN: Only the ESI file is written and every payer was attempted
	dir := t.TempDir()
	builder := &fakeBuilder{
		files: map[accumulation.PayerName]accumulation.File{
			accumulation.PayerESI: {
				Name:    "WARP_RxAccum_20250615_120000.txt",
				Content: []byte("header\ndetail\ntrailer\n"),
				Details: []accumulation.DetailRecordWrapper{{UniqueID: "x#cb_1"}},
			},
			accumulation.PayerPremera: {Name: "Warp_Premera_Accumulator_File_20250615_120000"},
		},
		errs: map[accumulation.PayerName]error{"aetna": errors.New("no generator")},
	}

	s := NewAccumulationScheduler(builder, dir, []accumulation.PayerName{"aetna", accumulation.PayerESI, accumulation.PayerPremera}, zerolog.Nop())
	s.now = func() time.Time { return testNow }

	written := s.RunNow(context.Background())
	require.Len(t, written, 1)
	assert.Equal(t, filepath.Join(dir, "WARP_RxAccum_20250615_120000.txt"), written[0])
	assert.Len(t, builder.calls, 3)

	content, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, "header\ndetail\ntrailer\n", string(content))

	_, err = os.Stat(filepath.Join(dir, "Warp_Premera_Accumulator_File_20250615_120000"))
	assert.True(t, os.IsNotExist(err))
}

func TestAccumulationScheduler_DisabledWithoutOutputDir(t *testing.T) {
	s := NewAccumulationScheduler(&fakeBuilder{}, "", nil, zerolog.Nop())
	assert.False(t, s.Enabled)

	s.Start()
	s.Stop()
	assert.True(t, s.NextRunTime().IsZero())
}

func TestAccumulationScheduler_StartStop(t *testing.T) {
	s := NewAccumulationScheduler(&fakeBuilder{}, t.TempDir(), []accumulation.PayerName{accumulation.PayerESI}, zerolog.Nop())
	s.now = func() time.Time { return testNow }

	s.Start()
	assert.Equal(t, testNow.Add(24*time.Hour), s.NextRunTime())
	s.Stop()
}

func TestAccumulationScheduler_StopDuringRun(t *testing.T) {
	// GIVEN: A scheduler whose run is in the middle of a slow build
	// WHEN: Stopping it
	// THEN: Stop waits for the run and returns
	builder := &slowBuilder{started: make(chan struct{}), delay: 200 * time.Millisecond}
	s := NewAccumulationScheduler(builder, t.TempDir(), []accumulation.PayerName{accumulation.PayerESI}, zerolog.Nop())
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	select {
	case <-builder.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ran")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a run was in progress")
	}
	assert.False(t, s.NextRunTime().IsZero())

	// a second Stop is a no-op
	s.Stop()
}
