package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/cxxpp/pkg/cpp"
)

type outcome struct {
	text string
	err  error
}

func startWatch(t *testing.T, main string, run Runner) <-chan outcome {
	t.Helper()
	w, err := New()
	require.NoError(t, err)
	w.Debounce = 20 * time.Millisecond

	outcomes := make(chan outcome, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, main, run, func(res *cpp.Result, err error) {
			o := outcome{err: err}
			if res != nil {
				o.text = res.Text()
			}
			outcomes <- o
		})
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
		w.Close()
	})
	return outcomes
}

func next(t *testing.T, outcomes <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a run")
		return outcome{}
	}
}

// waitFor reads outcomes until one has the wanted text. A single save can
// produce more than one run.
func waitFor(t *testing.T, outcomes <-chan outcome, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case o := <-outcomes:
			if o.err == nil && o.text == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output %q", want)
		}
	}
}

func TestWatchRerunsOnHeaderChange(t *testing.T) {
	dir := t.TempDir()
	hdrDir := filepath.Join(dir, "include")
	require.NoError(t, os.MkdirAll(hdrDir, 0755))
	header := filepath.Join(hdrDir, "value.h")
	main := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(header, []byte("#define VALUE 1\n"), 0644))
	require.NoError(t, os.WriteFile(main, []byte("#include <value.h>\nVALUE\n"), 0644))

	pp, err := cpp.NewPreprocessor(cpp.PreprocessorOptions{IncludeDirs: []string{hdrDir}})
	require.NoError(t, err)

	outcomes := startWatch(t, main, func() (*cpp.Result, error) { return pp.PreprocessFile(main) })
	assert.Equal(t, "1\n", next(t, outcomes).text)

	require.NoError(t, os.WriteFile(header, []byte("#define VALUE 2\n"), 0644))
	waitFor(t, outcomes, "2\n")

	require.NoError(t, os.WriteFile(main, []byte("#include <value.h>\nVALUE VALUE\n"), 0644))
	waitFor(t, outcomes, "2 2\n")
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(main, []byte("x\n"), 0644))

	pp, err := cpp.NewPreprocessor(cpp.PreprocessorOptions{})
	require.NoError(t, err)

	outcomes := startWatch(t, main, func() (*cpp.Result, error) { return pp.PreprocessFile(main) })
	assert.Equal(t, "x\n", next(t, outcomes).text)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.c"), []byte("y\n"), 0644))
	select {
	case o := <-outcomes:
		t.Fatalf("unexpected run: %+v", o)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchReportsFailedRuns(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(main, []byte("x\n"), 0644))

	failing := errors.New("boom")
	calls := 0
	outcomes := startWatch(t, main, func() (*cpp.Result, error) {
		calls++
		if calls == 1 {
			return nil, failing
		}
		return &cpp.Result{Tokens: cpp.Lex("ok", main)}, nil
	})
	assert.ErrorIs(t, next(t, outcomes).err, failing)

	require.NoError(t, os.WriteFile(main, []byte("y\n"), 0644))
	waitFor(t, outcomes, "ok\n")
}
