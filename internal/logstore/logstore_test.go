package logstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPathShape(t *testing.T) {
	at := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)
	got := Path("app", "production", at, "dep-1", "build_image")
	require.Equal(t, "app/production/2026/07/30/14/05/deployment-dep-1-job-build_image.log", got)
}

func TestAppendAndReadRange(t *testing.T) {
	ctx := context.Background()
	st := New()
	path := "app/production/2026/07/30/14/05/deployment-1-job-build.log"

	require.NoError(t, st.Append(ctx, path, []byte("hello ")))
	require.NoError(t, st.Append(ctx, path, []byte("world")))

	got, err := st.ReadRange(ctx, path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	got, err = st.ReadRange(ctx, path, 6, 11)
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestFollowSeesAppendsAndEOF(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := New()
	path := "app/production/2026/07/30/14/05/deployment-1-job-build.log"
	require.NoError(t, st.Append(ctx, path, []byte("part1")))

	chunks := st.Follow(ctx, path, 0)

	var got []byte
	gotFirst := <-chunks
	require.False(t, gotFirst.EOF)
	got = append(got, gotFirst.Data...)

	require.NoError(t, st.Append(ctx, path, []byte("part2")))
	gotSecond := <-chunks
	require.False(t, gotSecond.EOF)
	got = append(got, gotSecond.Data...)

	require.NoError(t, st.Close(ctx, path))
	eof := <-chunks
	require.True(t, eof.EOF)

	require.Equal(t, "part1part2", string(got))
}
