package proto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripRequest(t *testing.T) {
	req := Request{Type: ReqCreateSession, Name: "mysession", Shell: "pwsh", Cwd: `C:\`, Cols: 100, Rows: 30}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, req, got)
}

func TestFrameRoundTripEvent(t *testing.T) {
	evt := Exit("abc123", 7)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, evt))

	var got Event
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, EvtExit, got.Type)
	assert.Equal(t, 7, got.ExitCode())
}

func TestFrameLargeBinaryPayloadSurvives(t *testing.T) {
	data := make([]byte, 8<<10)
	_, err := rand.Read(data)
	require.NoError(t, err)

	evt := Output("sess-1", data)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, evt))

	var got Event
	require.NoError(t, ReadFrame(&buf, &got))
	gotData, err := got.OutputData()
	require.NoError(t, err)
	assert.Equal(t, data, gotData)
}

func TestReadFrameInvalidLength(t *testing.T) {
	buf := &bytes.Buffer{}
	hdr := []byte{0, 0, 0, 0}
	// 0x05000000 = 83886080 bytes, comfortably over the 64 MiB cap.
	hdr[3] = 0x05
	buf.Write(hdr)

	var got Event
	err := ReadFrame(buf, &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFrame))
}

func TestReadFrameCleanEOF(t *testing.T) {
	buf := &bytes.Buffer{}
	var got Event
	err := ReadFrame(buf, &got)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestReadFrameShortHeaderIsFatal(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 1})
	var got Event
	err := ReadFrame(buf, &got)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEndOfStream))
}

func TestPongServerTimeRecent(t *testing.T) {
	evt := Pong(time.Now())
	ts, err := time.Parse(time.RFC3339Nano, evt.ServerTime)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}
