// Copyright 2025 Tetrate
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileWatcher(t *testing.T) {
	testCases := []struct {
		desc          string
		numFiles      int
		firstTimeRead bool
		opts          FileWatcherOptions
	}{
		{desc: "watch single file", numFiles: 1, opts: NewOpts(WithSkipFallback())},
		{desc: "watch single file with low interval", numFiles: 1, opts: NewOpts(WithSkipFallback(), WithCheckInterval(time.Millisecond))},
		{desc: "watch multiple files", numFiles: 20, opts: NewOpts(WithSkipFallback(), WithCheckInterval(time.Millisecond))},
		{desc: "watch with fallback", numFiles: 5, opts: NewOpts(WithFallbackInterval(time.Millisecond), WithCheckInterval(time.Millisecond))},
		{desc: "notify on first time read", numFiles: 1, firstTimeRead: true,
			opts: NewOpts(WithSkipFallback(), WithFirstTimeRead(), WithCheckInterval(time.Millisecond))},
		{desc: "notify multiple files on first time read", numFiles: 5, firstTimeRead: true,
			opts: NewOpts(WithSkipFallback(), WithFirstTimeRead(), WithCheckInterval(time.Millisecond))},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var (
				dir      = t.TempDir()
				files    = make([]string, tc.numFiles)
				toVerify = make(chan Data, 2*len(files))
				stop     = make(chan struct{})
				want     = "updated"
			)
			if tc.firstTimeRead {
				want = "initial"
			}

			for i := range files {
				files[i] = filepath.Join(dir, "test-file-"+strconv.Itoa(i)+".yaml")
				require.NoError(t, modifyFile(files[i], "initial"))
			}

			w := NewFileWatcher(tc.opts)
			for _, f := range files {
				require.NoError(t, w.Watch(f, sendToVerify(toVerify)))
			}
			require.NoError(t, w.Start(stop))
			t.Cleanup(func() { close(stop) })

			if !tc.firstTimeRead {
				for _, f := range files {
					require.NoError(t, modifyFile(f, "updated"))
				}
			}

			got := waitFor(t, toVerify, len(files))
			for _, f := range files {
				require.Contains(t, got, f)
				require.NoError(t, got[f].Err)
				require.Equal(t, []byte(want), got[f].Value.Data, "not updated file %s", f)
			}
		})
	}
}

func TestRegisterFilesAfterStart(t *testing.T) {
	var (
		dir      = t.TempDir()
		before   = filepath.Join(dir, "before.yaml")
		after    = filepath.Join(dir, "after.yaml")
		toVerify = make(chan Data, 4)
		stop     = make(chan struct{})
	)
	require.NoError(t, modifyFile(before, "initial"))
	require.NoError(t, modifyFile(after, "initial"))

	w := NewFileWatcher(NewOpts(WithSkipFallback(), WithCheckInterval(time.Millisecond)))
	require.NoError(t, w.Watch(before, sendToVerify(toVerify)))
	require.NoError(t, w.Start(stop))
	t.Cleanup(func() { close(stop) })

	require.NoError(t, w.Watch(after, sendToVerify(toVerify)))

	require.NoError(t, modifyFile(before, "updated"))
	require.NoError(t, modifyFile(after, "updated"))

	got := waitFor(t, toVerify, 2)
	require.Equal(t, []byte("updated"), got[before].Value.Data)
	require.Equal(t, []byte("updated"), got[after].Value.Data)
}

func TestUnchangedContentIsNotNotified(t *testing.T) {
	var (
		f        = filepath.Join(t.TempDir(), "config.yaml")
		toVerify = make(chan Data, 4)
		stop     = make(chan struct{})
	)
	require.NoError(t, modifyFile(f, "same"))

	w := NewFileWatcher(NewOpts(WithFallbackInterval(time.Millisecond), WithCheckInterval(time.Millisecond)))
	require.NoError(t, w.Watch(f, sendToVerify(toVerify)))
	require.NoError(t, w.Start(stop))
	t.Cleanup(func() { close(stop) })

	// Periodic reads of unchanged content are not notified
	require.Never(t, func() bool { return len(toVerify) > 0 }, 200*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, modifyFile(f, "changed"))
	got := waitFor(t, toVerify, 1)
	require.Equal(t, []byte("changed"), got[f].Value.Data)
}

func TestReplacedFile(t *testing.T) {
	var (
		dir      = t.TempDir()
		f        = filepath.Join(dir, "config.yaml")
		tmp      = filepath.Join(dir, "config.yaml.tmp")
		toVerify = make(chan Data, 8)
		stop     = make(chan struct{})
	)
	require.NoError(t, modifyFile(f, "initial"))

	w := NewFileWatcher(NewOpts(WithSkipFallback(), WithCheckInterval(time.Millisecond)))
	require.NoError(t, w.Watch(f, sendToVerify(toVerify)))
	require.NoError(t, w.Start(stop))
	t.Cleanup(func() { close(stop) })

	require.NoError(t, modifyFile(tmp, "replaced"))
	require.NoError(t, os.Rename(tmp, f))

	got := waitFor(t, toVerify, 1)
	require.Equal(t, []byte("replaced"), got[f].Value.Data)
}

func TestFailedToWatch(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWatcher(NewOpts(WithSkipFallback()))
	require.Error(t, w.Watch(filepath.Join(dir, "not-exist"), func(_ Data) {}))
	require.ErrorIs(t, w.Watch(dir, func(_ Data) {}), ErrIsDirectory)
}

func TestOnError(t *testing.T) {
	var (
		f    = filepath.Join(t.TempDir(), "config.yaml")
		errs = make(chan error, 8)
		stop = make(chan struct{})
	)
	require.NoError(t, modifyFile(f, "start"))

	w := NewFileWatcher(NewOpts(WithFallbackInterval(time.Millisecond), WithCheckInterval(time.Millisecond)))
	require.NoError(t, w.Watch(f, func(data Data) {
		if data.Err != nil {
			require.Empty(t, data.Value.Data)
			select {
			case errs <- data.Err:
			default:
			}
		}
	}))
	require.NoError(t, w.Start(stop))
	t.Cleanup(func() { close(stop) })

	require.NoError(t, os.Remove(f))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, os.ErrNotExist)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout while waiting for the error to be notified (5s)")
	}
}

func TestOptions(t *testing.T) {
	o := NewOpts()
	require.Equal(t, time.Minute, o.fallbackTimeout)
	require.Equal(t, time.Second, o.checkInterval)
	require.False(t, o.firstTimeRead)
	require.False(t, o.skipFallback)

	o = o.With(WithFirstTimeRead(), WithSkipFallback(), WithCheckInterval(time.Millisecond), WithFallbackInterval(time.Hour))
	require.Equal(t, FileWatcherOptions{
		fallbackTimeout: time.Hour,
		checkInterval:   time.Millisecond,
		firstTimeRead:   true,
		skipFallback:    true,
	}, o)
}

func sendToVerify(verifyChan chan Data) Callback {
	return func(data Data) {
		// A truncate event may be observed before the content is written.
		if data.Err != nil || len(data.Value.Data) == 0 {
			return
		}
		select {
		case verifyChan <- data:
		default:
		}
	}
}

func waitFor(t *testing.T, ch chan Data, n int) map[string]Data {
	got := make(map[string]Data)
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case data := <-ch:
			got[data.Value.Name] = data
		case <-timeout:
			t.Fatal("timeout while waiting for all files to be notified for changes (5s)")
		}
	}
	return got
}

func modifyFile(name, data string) error {
	return os.WriteFile(name, []byte(data), 0600)
}
