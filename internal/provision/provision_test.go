//go:build !windows

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"regtest/internal/config"
	"regtest/internal/process"
)

type fakeDatabases struct {
	workers []int
	err     error
}

func (f fakeDatabases) Ensure(context.Context, int) ([]int, error) { return f.workers, f.err }

func newProvisioner(t *testing.T, setup string, dbs Databases) (*Provisioner, *config.Config) {
	t.Helper()
	cfg := config.New()
	cfg.ProjectPath = t.TempDir()
	cfg.Database.SetupCommand = setup
	procs := process.NewController(time.Second, zaptest.NewLogger(t))
	return New(cfg, dbs, procs, io.Discard, zaptest.NewLogger(t)), cfg
}

func TestProvisioner_RunsSetupPerWorker(t *testing.T) {
	p, cfg := newProvisioner(t, `sh -c 'echo "$DB_DATABASE" > "db_$REGTEST_DATABASE"'`, fakeDatabases{workers: []int{1, 2, 3}})

	results, err := p.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.WorkerID)
		assert.True(t, r.Status.IsPassed(), r.Status.String())
		data, err := os.ReadFile(filepath.Join(cfg.ProjectPath, "db_"+r.Database))
		require.NoError(t, err)
		assert.Equal(t, r.Database+"\n", string(data))
	}
}

func TestProvisioner_ReportsFailedWorkers(t *testing.T) {
	p, _ := newProvisioner(t, `sh -c 'echo checking; test "$REGTEST_DATABASE" != testing_2'`, nil)

	results, err := p.Run(context.Background(), 2)
	require.ErrorContains(t, err, "setup failed for 1 worker(s)")
	require.Len(t, results, 2)
	assert.True(t, results[0].Status.IsPassed())
	assert.True(t, results[1].Status.IsFailed())
	assert.Equal(t, "checking\n", results[1].Output)
}

func TestProvisioner_Errors(t *testing.T) {
	p, _ := newProvisioner(t, "true", fakeDatabases{err: errors.New("connection refused")})
	_, err := p.Run(context.Background(), 2)
	assert.ErrorContains(t, err, "connection refused")

	p, _ = newProvisioner(t, "true", fakeDatabases{})
	_, err = p.Run(context.Background(), 2)
	assert.ErrorContains(t, err, "no test databases available")

	p, _ = newProvisioner(t, `sh -c 'unterminated`, nil)
	_, err = p.Run(context.Background(), 1)
	assert.ErrorContains(t, err, "bad setup command")

	p, _ = newProvisioner(t, "", nil)
	results, err := p.Run(context.Background(), 1)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestWorkerEnv(t *testing.T) {
	cfg := config.New()
	cfg.Database.Prefix = "ci"
	env := WorkerEnv(cfg)(4)
	assert.Equal(t, "ci_4", env["REGTEST_DATABASE"])
	assert.Equal(t, "ci_4", env["DB_DATABASE"])
}
