package splitter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eddielth/csv-device-split/device"
	"github.com/eddielth/csv-device-split/format"
	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/timefmt"
	"github.com/eddielth/csv-device-split/transformer"
	"github.com/eddielth/csv-device-split/validator"
)

// RecordSink receives each canonical record as it is routed; used to mirror
// the run over MQTT. Sink failures never abort the run.
type RecordSink interface {
	PublishRecord(record transformer.CanonicalRecord) error
}

// RecordStore mirrors canonical records into a storage backend
type RecordStore interface {
	Store(record transformer.CanonicalRecord)
}

// Options configures one Pipeline
type Options struct {
	OutputDir    string
	TimeCol      string
	DeviceCol    string
	FileID       string
	DateOrder    timefmt.DateOrder
	MaxOpenFiles int

	// optional collaborators; nil disables them
	Transformers *transformer.Manager
	Validators   []validator.Validator
	Store        RecordStore
	Sink         RecordSink
}

// Pipeline is the single-threaded transformation pass: detect the format
// once, then per row extract the device, normalize the timestamp and route
// the record. Rows are processed strictly in input order so each device's
// output preserves the source's temporal ordering without a sort pass.
type Pipeline struct {
	opts       Options
	normalizer *timefmt.Normalizer
}

// New creates a pipeline
func New(opts Options) *Pipeline {
	if opts.TimeCol == "" {
		opts.TimeCol = "Time"
	}
	if opts.FileID == "" {
		opts.FileID = "W1"
	}
	return &Pipeline{
		opts:       opts,
		normalizer: timefmt.New(opts.DateOrder),
	}
}

// rowPlan is the per-file routing plan derived from the descriptor. It maps
// one raw row to the canonical records it produces.
type rowPlan struct {
	desc     *format.Descriptor
	header   []string
	timeIdx  []int // one index, or two for split-timestamp
	devIdx   int   // -1 when device identity is not row-level
	fileKey  device.Key

	// header/prefix formats: one input row fans out to one record per device
	deviceOrder []device.Key
	deviceCols  map[device.Key][]int    // source column indexes per device
	deviceNames map[device.Key][]string // output column names per device

	// row-level formats: the columns every record carries
	recordCols  []int
	recordNames []string
}

// Run processes one input file end to end and returns its metrics. The
// returned error is non-nil only for fatal conditions (unreadable input,
// unrecognized format); per-row problems and per-device write failures are
// reported through the metrics.
func (p *Pipeline) Run(ctx context.Context, inputPath string) (*RunMetrics, error) {
	metrics := NewRunMetrics(inputPath)
	logger.Info("processing input file: %s", inputPath)

	f, err := os.Open(inputPath)
	if err != nil {
		return metrics, fmt.Errorf("open input file failed: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // ragged rows are handled per row, not fatally

	header, err := reader.Read()
	if err != nil {
		return metrics, fmt.Errorf("read header row failed: %v", err)
	}

	desc, err := format.Detect(header, format.Options{TimeCol: p.opts.TimeCol, DeviceCol: p.opts.DeviceCol})
	if err != nil {
		return metrics, err
	}
	metrics.Format = desc.Kind
	logger.Info("detected format: %s", desc.Kind)

	plan, err := p.buildPlan(desc, header, inputPath)
	if err != nil {
		return metrics, err
	}

	router, err := NewRouter(p.opts.OutputDir, p.opts.FileID, p.opts.TimeCol, p.opts.MaxOpenFiles)
	if err != nil {
		return metrics, err
	}
	// handles are released on every exit path, including cancellation
	defer func() {
		for key, err := range router.Close() {
			metrics.FailedDevices[key] = err.Error()
		}
		metrics.Elapsed = time.Since(metrics.Started)
	}()

	rowNum := 1 // header row
	for {
		select {
		case <-ctx.Done():
			return metrics, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			metrics.MalformedRows++
			logger.Warn("row %d: malformed CSV line skipped: %v", rowNum, err)
			continue
		}

		metrics.TotalRows++
		if len(row) != len(plan.header) {
			metrics.MalformedRows++
			logger.Warn("row %d: %d fields, header has %d; row skipped", rowNum, len(row), len(plan.header))
			continue
		}

		p.processRow(plan, row, rowNum, router, metrics)
	}

	return metrics, nil
}

// buildPlan resolves column indexes and, for header/prefix formats, the
// one-time column→device mapping
func (p *Pipeline) buildPlan(desc *format.Descriptor, header []string, inputPath string) (*rowPlan, error) {
	plan := &rowPlan{desc: desc, header: header, devIdx: -1}

	index := func(name string) int {
		for i, col := range header {
			if col == name {
				return i
			}
		}
		return -1
	}

	switch desc.Kind {
	case format.HeaderEncoded, format.PrefixEncoded:
		timeCol := desc.TimeColumn()
		if timeCol == "" {
			return nil, fmt.Errorf("time column %q not found in %s header", p.opts.TimeCol, desc.Kind)
		}
		plan.timeIdx = []int{index(timeCol)}

		bindings, err := device.MapColumns(desc, header)
		if err != nil {
			return nil, err
		}

		seen := map[device.Key]bool{}
		var common []int
		var commonNames []string
		for i, col := range header {
			if i == plan.timeIdx[0] {
				continue
			}
			binding, ok := bindings[col]
			if !ok {
				// columns without device identity are common to every device
				common = append(common, i)
				commonNames = append(commonNames, col)
				continue
			}
			if !seen[binding.Device] {
				seen[binding.Device] = true
				plan.deviceOrder = append(plan.deviceOrder, binding.Device)
			}
		}

		plan.deviceCols = map[device.Key][]int{}
		plan.deviceNames = map[device.Key][]string{}
		for _, key := range plan.deviceOrder {
			plan.deviceCols[key] = append([]int(nil), common...)
			plan.deviceNames[key] = append([]string(nil), commonNames...)
		}
		for i, col := range header {
			binding, ok := bindings[col]
			if !ok {
				continue
			}
			plan.deviceCols[binding.Device] = append(plan.deviceCols[binding.Device], i)
			plan.deviceNames[binding.Device] = append(plan.deviceNames[binding.Device], binding.Measurement)
		}
		logger.Info("found %d devices and %d common columns in header", len(plan.deviceOrder), len(common))

	case format.DeviceColumn:
		timeCol := desc.TimeColumn()
		if timeCol == "" {
			return nil, fmt.Errorf("time column %q not found in %s header", p.opts.TimeCol, desc.Kind)
		}
		plan.timeIdx = []int{index(timeCol)}
		plan.devIdx = index(desc.DeviceColumn)
		for i, col := range header {
			if i == plan.timeIdx[0] || i == plan.devIdx {
				continue
			}
			plan.recordCols = append(plan.recordCols, i)
			plan.recordNames = append(plan.recordNames, col)
		}

	case format.SplitTimestamp:
		plan.timeIdx = []int{index(desc.TimeColumns[0]), index(desc.TimeColumns[1])}
		if desc.DeviceColumn != "" {
			plan.devIdx = index(desc.DeviceColumn)
		} else {
			// no per-row device identity: the whole file belongs to one
			// device named after the input file
			stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
			plan.fileKey = device.Normalize(stem)
			if plan.fileKey == "" {
				return nil, &device.ExtractionError{Value: stem, Reason: "input filename yields no device key"}
			}
		}
		for i, col := range header {
			if i == plan.timeIdx[0] || i == plan.timeIdx[1] || (plan.devIdx >= 0 && i == plan.devIdx) {
				continue
			}
			plan.recordCols = append(plan.recordCols, i)
			plan.recordNames = append(plan.recordNames, col)
		}

	default:
		return nil, format.ErrUnrecognizedFormat
	}

	return plan, nil
}

// processRow turns one raw row into canonical records and routes them
func (p *Pipeline) processRow(plan *rowPlan, row []string, rowNum int, router *Router, metrics *RunMetrics) {
	// normalize the timestamp first: a row without a valid instant produces
	// nothing for any device
	var canonical string
	var err error
	if plan.desc.Kind == format.SplitTimestamp {
		canonical, err = p.normalizer.Combine(row[plan.timeIdx[0]], row[plan.timeIdx[1]])
	} else {
		canonical, err = p.normalizer.Normalize(row[plan.timeIdx[0]])
	}
	if err != nil {
		metrics.TimestampErrors++
		logger.Warn("row %d skipped: %v", rowNum, err)
		return
	}

	switch plan.desc.Kind {
	case format.HeaderEncoded, format.PrefixEncoded:
		for _, key := range plan.deviceOrder {
			record := transformer.CanonicalRecord{
				Device:    string(key),
				Timestamp: canonical,
				Columns:   plan.deviceNames[key],
				Values:    pick(row, plan.deviceCols[key]),
				SourceRow: rowNum,
			}
			p.emit(record, router, metrics)
		}

	default:
		key := plan.fileKey
		if plan.devIdx >= 0 {
			key, err = device.FromRow(row[plan.devIdx])
			if err != nil {
				metrics.DeviceErrors++
				logger.Warn("row %d skipped: %v", rowNum, err)
				return
			}
		}
		record := transformer.CanonicalRecord{
			Device:    string(key),
			Timestamp: canonical,
			Columns:   plan.recordNames,
			Values:    pick(row, plan.recordCols),
			SourceRow: rowNum,
		}
		p.emit(record, router, metrics)
	}
}

// emit applies the optional validators, transform hook and mirrors, then
// routes the record
func (p *Pipeline) emit(record transformer.CanonicalRecord, router *Router, metrics *RunMetrics) {
	if len(p.opts.Validators) > 0 {
		if err := validator.Chain(p.opts.Validators, &record); err != nil {
			// quality violations are observed and counted, not filtered
			metrics.QualityViolations++
			logger.Warn("row %d device %s: %v", record.SourceRow, record.Device, err)
		}
	}

	if p.opts.Transformers != nil && p.opts.Transformers.Has(record.Device) {
		transformed, err := p.opts.Transformers.Transform(record)
		if err != nil {
			metrics.TransformErrors++
			logger.Warn("row %d device %s: transform hook failed, writing record untransformed: %v", record.SourceRow, record.Device, err)
		} else {
			record = transformed
		}
	}

	if err := router.Write(record); err != nil {
		var schemaErr *SchemaMismatchError
		var writeErr *WriteError
		switch {
		case errors.As(err, &schemaErr):
			metrics.SchemaMismatches++
			logger.Warn("row %d skipped: %v", record.SourceRow, err)
		case errors.As(err, &writeErr):
			metrics.WriteFailures++
			if metrics.FailedDevices[writeErr.Device] == "" {
				metrics.FailedDevices[writeErr.Device] = writeErr.Err.Error()
				logger.Error("%v", err)
			}
		default:
			metrics.WriteFailures++
			logger.Error("row %d: %v", record.SourceRow, err)
		}
		return
	}

	metrics.WrittenRows++
	metrics.PerDevice[device.Key(record.Device)]++

	if p.opts.Store != nil {
		p.opts.Store.Store(record)
	}
	if p.opts.Sink != nil {
		if err := p.opts.Sink.PublishRecord(record); err != nil {
			logger.Warn("publishing record from row %d failed: %v", record.SourceRow, err)
		}
	}
}

// pick selects the given indexes out of a row
func pick(row []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}
