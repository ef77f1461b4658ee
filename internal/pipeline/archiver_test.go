package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArchiver struct {
	before time.Time
	n      int64
	err    error
}

func (s *stubArchiver) ArchiveAnswers(_ context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.n, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiver_Run(t *testing.T) {
	stub := &stubArchiver{n: 42}
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "archived"})
	a := NewArchiver(stub, 30, discardLogger()).WithCounter(counter)
	now := time.Date(2020, 6, 30, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, time.Date(2020, 5, 31, 12, 0, 0, 0, time.UTC), stub.before)
	assert.Equal(t, 42.0, testutil.ToFloat64(counter))

	stub.err = errors.New("s3 down")
	_, err = a.Run(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2020, 5, 1, 3, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 5, 2, 3, 0, 0, 0, time.UTC), next)

	next, err = nextCronTime("*/15 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 5, 1, 3, 45, 0, 0, time.UTC), next)

	// 2020-05-04 is a Monday.
	next, err = nextCronTime("0 0 * * 1-5", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 5, 4, 0, 0, 0, 0, time.UTC), next)
}

func TestParseCron_Errors(t *testing.T) {
	for _, expr := range []string{"", "0 3 * *", "61 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestRunCron_StopsOnCancel(t *testing.T) {
	a := NewArchiver(&stubArchiver{}, 1, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.RunCron(ctx, "0 3 * * *"), context.Canceled)
	assert.Error(t, a.RunCron(context.Background(), "bad"))
}
