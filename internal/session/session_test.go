package session

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePTY is a test double for ptyHandle that never touches a real
// pseudoconsole, per the design note on unit-testing the fan-out without
// spawning a process.
type fakePTY struct {
	outCh  chan []byte
	exitCh chan int

	mu      sync.Mutex
	writes  [][]byte
	resizes [][2]int
	closed  bool
}

func newFakePTY() *fakePTY {
	return &fakePTY{
		outCh:  make(chan []byte),
		exitCh: make(chan int, 1),
	}
}

func (f *fakePTY) Spawn(string, string, []string) (int, error) { return 4242, nil }

func (f *fakePTY) Read(buf []byte) (int, error) {
	chunk, ok := <-f.outCh
	if !ok {
		return 0, nil
	}
	n := copy(buf, chunk)
	return n, nil
}

func (f *fakePTY) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakePTY) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakePTY) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePTY) Kill() {
	select {
	case f.exitCh <- 0:
	default:
	}
}

func (f *fakePTY) Wait() (int, error) {
	code := <-f.exitCh
	return code, nil
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *recordingSink) Output(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), data...))
}

func (r *recordingSink) all() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

func withFakePTY(t *testing.T) *fakePTY {
	t.Helper()
	fp := newFakePTY()
	old := newPTY
	newPTY = func(cols, rows int) (ptyHandle, error) { return fp, nil }
	t.Cleanup(func() { newPTY = old })
	return fp
}

func TestCreateAppliesDefaultsForEmptyFields(t *testing.T) {
	withFakePTY(t)

	s, err := create("abcdef1234567890", CreateOptions{}, Defaults{Shell: "pwsh.exe", Cwd: `C:\Users\test`})
	require.NoError(t, err)

	assert.Equal(t, "abcdef", s.Name)
	assert.Equal(t, defaultCols, s.Summary().Cols)
	assert.Equal(t, defaultRows, s.Summary().Rows)
	assert.Equal(t, "pwsh.exe", s.Shell)
	assert.Equal(t, StateRunning, s.Summary().State)
}

func TestCreateHonorsExplicitFields(t *testing.T) {
	withFakePTY(t)

	s, err := create("deadbeef", CreateOptions{
		Name: "mysession", Shell: "pwsh", Cwd: `C:\`, Cols: 100, Rows: 30,
	}, Defaults{})
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, "mysession", sum.Name)
	assert.Equal(t, 100, sum.Cols)
	assert.Equal(t, 30, sum.Rows)
}

func TestReadLoopFansOutToListeners(t *testing.T) {
	fp := withFakePTY(t)

	s, err := create("sess1", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	sink := &recordingSink{}
	s.AddListener(sink)

	fp.outCh <- []byte("hello ")
	fp.outCh <- []byte("world")
	close(fp.outCh)

	require.Eventually(t, func() bool {
		return string(sink.all()) == "hello world"
	}, time.Second, 5*time.Millisecond)
}

func TestWarmAttachReplayPrecedesLiveChunks(t *testing.T) {
	fp := withFakePTY(t)

	s, err := create("sess2", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	// Produce output before anyone attaches.
	fp.outCh <- []byte("backlog")
	require.Eventually(t, func() bool {
		return s.ring.Len() == len("backlog")
	}, time.Second, 5*time.Millisecond)

	sink := &recordingSink{}
	s.AddListener(sink)

	fp.outCh <- []byte("-live")
	close(fp.outCh)

	require.Eventually(t, func() bool {
		return string(sink.all()) == "backlog-live"
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.GreaterOrEqual(t, len(sink.chunks), 2)
	assert.Equal(t, "backlog", string(sink.chunks[0]))
}

// TestAddListenerDuringLiveDeliveryStaysAtomic exercises the race the warm
// attach test above never triggers: a chunk landing in readLoop while
// AddListener is mid-flight. Every sink, however late it attaches, must end
// up holding an exact, unbroken suffix of the full output stream — its
// replay snapshot followed by whatever arrived live, with nothing skipped
// and nothing duplicated.
func TestAddListenerDuringLiveDeliveryStaysAtomic(t *testing.T) {
	fp := withFakePTY(t)

	s, err := create("sess2b", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	const numChunks = 80
	chunks := make([][]byte, numChunks)
	var full bytes.Buffer
	for i := range chunks {
		chunks[i] = []byte(fmt.Sprintf("|live%02d|", i))
		full.Write(chunks[i])
	}
	fullStream := full.Bytes()
	lastMarker := chunks[numChunks-1]

	const numListeners = 12
	sinks := make([]*recordingSink, numListeners)
	var attachWG sync.WaitGroup
	attachWG.Add(numListeners)
	for i := 0; i < numListeners; i++ {
		go func(i int) {
			defer attachWG.Done()
			sink := &recordingSink{}
			sinks[i] = sink
			// Stagger attach attempts across the whole production window
			// instead of all firing at once, so some land before the first
			// chunk, some mid-stream, some after the last.
			time.Sleep(time.Duration(i) * time.Millisecond)
			s.AddListener(sink)
		}(i)
	}

	for _, c := range chunks {
		fp.outCh <- c
	}
	close(fp.outCh)

	attachWG.Wait()

	for i, sink := range sinks {
		require.Eventually(t, func() bool {
			return bytes.Contains(sink.all(), lastMarker)
		}, time.Second, 5*time.Millisecond, "listener %d never saw the final chunk", i)

		got := sink.all()
		assert.True(t, bytes.HasSuffix(fullStream, got),
			"listener %d's received bytes %q are not an exact suffix of the full stream %q", i, got, fullStream)
	}
}

func TestAddListenerOnEmptyRingDoesNotReplay(t *testing.T) {
	withFakePTY(t)

	s, err := create("sess3", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	sink := &recordingSink{}
	s.AddListener(sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.chunks)
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	fp := withFakePTY(t)

	s, err := create("sess4", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	sink := &recordingSink{}
	s.AddListener(sink)
	s.RemoveListener(sink)

	fp.outCh <- []byte("should not arrive")
	close(fp.outCh)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.all())
}

func TestWriteInputReachesPTYAndIgnoredAfterExit(t *testing.T) {
	fp := withFakePTY(t)
	close(fp.outCh)

	s, err := create("sess5", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	s.WriteInput([]byte("echo hi\r\n"))

	fp.mu.Lock()
	require.Len(t, fp.writes, 1)
	assert.Equal(t, "echo hi\r\n", string(fp.writes[0]))
	fp.mu.Unlock()

	fp.Kill()
	require.Eventually(t, func() bool {
		return s.Summary().State == StateExited
	}, time.Second, 5*time.Millisecond)

	s.WriteInput([]byte("ignored"))
	fp.mu.Lock()
	assert.Len(t, fp.writes, 1)
	fp.mu.Unlock()
}

func TestKillTransitionsToExited(t *testing.T) {
	fp := withFakePTY(t)
	close(fp.outCh)

	s, err := create("sess6", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	s.Kill()

	require.Eventually(t, func() bool {
		return s.Summary().State == StateExited
	}, time.Second, 5*time.Millisecond)

	fp.mu.Lock()
	assert.True(t, fp.closed)
	fp.mu.Unlock()
}

func TestResizeUpdatesSummaryAndPTY(t *testing.T) {
	fp := withFakePTY(t)

	s, err := create("sess7", CreateOptions{}, Defaults{})
	require.NoError(t, err)

	s.Resize(200, 50)
	sum := s.Summary()
	assert.Equal(t, 200, sum.Cols)
	assert.Equal(t, 50, sum.Rows)

	fp.mu.Lock()
	require.Len(t, fp.resizes, 1)
	assert.Equal(t, [2]int{200, 50}, fp.resizes[0])
	fp.mu.Unlock()

	close(fp.outCh)
}
