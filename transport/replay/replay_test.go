package replay_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/transport/replay"
)

const log = `# a captured session
2023-05-01T12:00:00.000000 000 I --- 01:145038 --:------ 01:145038 2309 003 0001F4
2023-05-01T12:00:00.050000 000 I --- 01:145038 --:------ 01:145038 30C9 003 0000C8
`

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	tr, err := replay.Load(strings.NewReader(log))
	require.NoError(t, err)

	ctx := context.Background()
	line, err := tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Contains(t, line, "2309")
}

func TestReadFramePacesByRecordedGap(t *testing.T) {
	tr, err := replay.Load(strings.NewReader(log))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tr.ReadFrame(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = tr.ReadFrame(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReadFrameBlocksOnExhaustionUntilCancel(t *testing.T) {
	tr, err := replay.Load(strings.NewReader(log))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = tr.ReadFrame(ctx)
	require.NoError(t, err)
	_, err = tr.ReadFrame(ctx)
	require.NoError(t, err)

	_, err = tr.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteFrameRecordsWithoutEcho(t *testing.T) {
	tr, err := replay.Load(strings.NewReader(log))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, tr.WriteFrame(context.Background(), "some line"))
	assert.Equal(t, []string{"some line"}, tr.Written())

	_, err = tr.ReadFrame(ctx)
	require.NoError(t, err)
}
