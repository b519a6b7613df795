package journal

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
)

func envelope(addr uint8, code codec.CompletionCode, err error) dispatch.Envelope {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return dispatch.Envelope{
		ID:          uuid.New(),
		Target:      dispatch.Target{Type: 4, ID: addr},
		Channel:     "bus1",
		Functions:   []codec.FunctionCode{0x41, 0x40},
		Priority:    dispatch.User,
		State:       dispatch.Completed,
		Code:        code,
		Attempts:    1,
		Err:         err,
		SubmittedAt: start,
		StartedAt:   start.Add(5 * time.Millisecond),
		FinishedAt:  start.Add(30 * time.Millisecond),
	}
}

func TestJournal_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.cbor")
	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	ok := envelope(1, codec.Success, nil)
	j.Observe(ok)
	j.Observe(envelope(2, codec.UnspecifiedError, errors.New("bus fault")))
	require.Equal(t, 2, j.Written())
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	r, err := NewReader(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ok.ID.String(), first.ID)
	assert.Equal(t, "bus1", first.Channel)
	assert.Equal(t, []uint8{0x41, 0x40}, first.Functions)
	assert.Equal(t, 5*time.Millisecond, first.Queued)
	assert.Equal(t, 30*time.Millisecond, first.Elapsed)
	assert.True(t, first.Time.Equal(ok.FinishedAt))
	assert.True(t, first.OK())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xFF), second.Code)
	assert.Equal(t, "bus fault", second.Error)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJournal_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.cbor")
	for i := 0; i < 2; i++ {
		j, err := Open(path, zerolog.Nop())
		require.NoError(t, err)
		j.Observe(envelope(uint8(i), codec.Success, nil))
		require.NoError(t, j.Close())
	}

	r, err := NewReader(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	n := 0
	for {
		if _, err := r.Next(); errors.Is(err, io.EOF) {
			break
		} else {
			require.NoError(t, err)
		}
		n++
	}
	assert.Equal(t, 2, n)
}

func TestReader_Filter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.cbor")
	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	j.Observe(envelope(1, codec.Success, nil))
	j.Observe(envelope(1, codec.NodeBusy, nil))
	j.Observe(envelope(2, codec.Timeout, nil))
	require.NoError(t, j.Close())

	addr := uint8(1)
	r, err := NewReader(path, Filter{Address: &addr, FailedOnly: true})
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(codec.NodeBusy), rec.Code)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJournal_IgnoresAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.cbor")
	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j.Observe(envelope(1, codec.Success, nil))
	assert.Zero(t, j.Written())
}
