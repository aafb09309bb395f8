package splitter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/eddielth/csv-device-split/device"
	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/transformer"
)

// SchemaMismatchError marks a record whose columns disagree with the header
// already written to its device's output file. The record is skipped so the
// downstream files stay rectangular.
type SchemaMismatchError struct {
	Device    device.Key
	SourceRow int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("row %d does not match the established schema of device %s", e.SourceRow, e.Device)
}

// WriteError marks an output failure. It is fatal for that device's file
// only; the other devices keep processing.
type WriteError struct {
	Device device.Key
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing output for device %s failed: %v", e.Device, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// outputFile owns one device's append-mode output handle plus the
// header-written flag. Created lazily on the first record for a new device,
// flushed and closed exactly once at end of input.
type outputFile struct {
	path          string
	file          *os.File
	writer        *csv.Writer
	header        []string
	headerWritten bool
	rows          int64
	lastUsed      int64
}

// Router appends canonical records to per-device output files named
// <DeviceKey>_<file-id>.csv. Records for one device are never reordered
// relative to each other; the header row is written exactly once per file.
type Router struct {
	outputDir string
	fileID    string
	timeCol   string
	maxOpen   int

	files  map[device.Key]*outputFile
	failed map[device.Key]error
	tick   int64
}

// NewRouter creates a router writing into outputDir. maxOpen bounds the
// number of simultaneously open handles; beyond it the least recently used
// file is closed and transparently reopened in append mode when needed.
func NewRouter(outputDir, fileID, timeCol string, maxOpen int) (*Router, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir %s failed: %v", outputDir, err)
	}
	if maxOpen <= 0 {
		maxOpen = 128
	}
	return &Router{
		outputDir: outputDir,
		fileID:    fileID,
		timeCol:   timeCol,
		maxOpen:   maxOpen,
		files:     map[device.Key]*outputFile{},
		failed:    map[device.Key]error{},
	}, nil
}

// Write appends one record to its device's file. A *SchemaMismatchError
// means the record was skipped; a *WriteError means the device's file has
// failed and every later record for it will be rejected with the same error.
func (r *Router) Write(record transformer.CanonicalRecord) error {
	key := device.Key(record.Device)

	if err, ok := r.failed[key]; ok {
		return &WriteError{Device: key, Err: err}
	}

	of, err := r.fileFor(key, record.Columns)
	if err != nil {
		r.fail(key, err)
		return &WriteError{Device: key, Err: err}
	}

	if len(record.Columns) != len(of.header)-1 || !columnsMatch(of.header[1:], record.Columns) {
		return &SchemaMismatchError{Device: key, SourceRow: record.SourceRow}
	}

	row := make([]string, 0, len(record.Values)+1)
	row = append(row, record.Timestamp)
	row = append(row, record.Values...)

	if err := of.writer.Write(row); err != nil {
		r.fail(key, err)
		return &WriteError{Device: key, Err: err}
	}
	// csv.Writer buffers; surface write errors promptly so a full disk does
	// not silently eat a device's rows
	of.writer.Flush()
	if err := of.writer.Error(); err != nil {
		r.fail(key, err)
		return &WriteError{Device: key, Err: err}
	}

	of.rows++
	r.tick++
	of.lastUsed = r.tick
	return nil
}

// fileFor returns the open handle for key, creating or reopening as needed.
// The first open of a run truncates whatever a previous run left behind.
func (r *Router) fileFor(key device.Key, columns []string) (*outputFile, error) {
	of, ok := r.files[key]
	if !ok {
		of = &outputFile{
			path:   filepath.Join(r.outputDir, fmt.Sprintf("%s_%s.csv", key, r.fileID)),
			header: append([]string{r.timeCol}, columns...),
		}
		r.files[key] = of
	}

	if of.file == nil {
		if err := r.reserveHandle(); err != nil {
			return nil, err
		}

		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if !of.headerWritten {
			// fresh file for this run
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		file, err := os.OpenFile(of.path, flags, 0644)
		if err != nil {
			return nil, err
		}
		of.file = file
		of.writer = csv.NewWriter(file)

		if !of.headerWritten {
			if err := of.writer.Write(of.header); err != nil {
				file.Close()
				of.file = nil
				return nil, err
			}
			of.writer.Flush()
			if err := of.writer.Error(); err != nil {
				file.Close()
				of.file = nil
				return nil, err
			}
			of.headerWritten = true
		}
	}

	return of, nil
}

// reserveHandle closes the least recently used open file when the handle
// budget is exhausted
func (r *Router) reserveHandle() error {
	open := 0
	var lru *outputFile
	for _, of := range r.files {
		if of.file == nil {
			continue
		}
		open++
		if lru == nil || of.lastUsed < lru.lastUsed {
			lru = of
		}
	}
	if open < r.maxOpen || lru == nil {
		return nil
	}
	logger.Debug("open file budget reached (%d), closing %s", r.maxOpen, lru.path)
	return r.release(lru)
}

// release flushes and closes one handle; the header flag survives so a
// reopen appends instead of rewriting
func (r *Router) release(of *outputFile) error {
	of.writer.Flush()
	werr := of.writer.Error()
	cerr := of.file.Close()
	of.file = nil
	of.writer = nil
	if werr != nil {
		return werr
	}
	return cerr
}

func (r *Router) fail(key device.Key, err error) {
	if _, ok := r.failed[key]; !ok {
		r.failed[key] = err
	}
}

// Devices returns every device key seen so far, sorted
func (r *Router) Devices() []device.Key {
	keys := make([]device.Key, 0, len(r.files))
	for key := range r.files {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Rows returns the number of data rows written for one device
func (r *Router) Rows(key device.Key) int64 {
	if of, ok := r.files[key]; ok {
		return of.rows
	}
	return 0
}

// Failed returns the devices whose files hit an output error
func (r *Router) Failed() map[device.Key]error {
	return r.failed
}

// Close flushes and closes every open handle exactly once. It runs on every
// exit path, including cancellation, so no handle outlives the run.
func (r *Router) Close() map[device.Key]error {
	for key, of := range r.files {
		if of.file == nil {
			continue
		}
		if err := r.release(of); err != nil {
			r.fail(key, err)
		}
	}
	return r.failed
}

func columnsMatch(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
