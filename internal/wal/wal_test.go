package wal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.log")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("first"), false))
	require.NoError(t, w.AddRecord([]byte("second"), true))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), rec)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), rec)

	_, err = r.ReadRecord()
	require.ErrorIs(t, err, io.EOF)
}

func TestOpenAppendExtendsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.log")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("first"), false))
	require.NoError(t, w.Close())

	w, err = OpenAppend(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("second"), false))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f, nil)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), rec)
	rec, err = r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), rec)
}

func TestReadRecordTruncatedTailIsReportedAndTreatedAsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.log")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("good"), false))
	require.NoError(t, w.AddRecord([]byte("second record, will be truncated"), false))
	require.NoError(t, w.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	truncated := full[:len(full)-5]

	var reportedErrs int
	reportErr := func(err error, dropped int) { reportedErrs++ }

	r := NewReader(bytes.NewReader(truncated), reportErr)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("good"), rec)

	_, err = r.ReadRecord()
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 1, reportedErrs)
}

func TestReadRecordWithoutReportErrReturnsCorruptionOnTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.log")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("will be truncated"), false))
	require.NoError(t, w.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	truncated := full[:len(full)-3]

	r := NewReader(bytes.NewReader(truncated), nil)
	_, err = r.ReadRecord()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestChecksumMismatchIsTreatedAsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.log")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord([]byte("payload"), false))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff // flip a payload byte without touching the CRC

	var dropped int
	r := NewReader(bytes.NewReader(data), func(err error, n int) { dropped = n })
	_, err = r.ReadRecord()
	require.ErrorIs(t, err, io.EOF)
	require.Positive(t, dropped)
}
