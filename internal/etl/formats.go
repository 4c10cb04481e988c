package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// maxLineBytes bounds a single JSON line
const maxLineBytes = 16 << 20

// recordReader yields input records in batches. An empty batch means the
// input is exhausted. Rows that cannot be decoded are counted in Skipped.
type recordReader interface {
	ReadBatch(n int) ([]Record, error)
	Skipped() int64
	Close() error
}

// recordWriter appends redacted records to the output
type recordWriter interface {
	Write(records []RedactedRecord) error
	Close() error
}

func openReader(path string) (recordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var r recordReader
	switch DetectFileFormat(path) {
	case FormatParquet:
		r = &parquetReader{file: file, reader: parquet.NewGenericReader[Record](file)}
	case FormatJSON:
		r = newJSONReader(file)
	default:
		r, err = newCSVReader(file)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func createWriter(path string) (recordWriter, error) {
	format, err := detectOutputFormat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	if format == FormatParquet {
		return &parquetWriter{file: file, writer: parquet.NewGenericWriter[RedactedRecord](file)}, nil
	}
	return newJSONWriter(file), nil
}

// csvReader reads a CSV file with a header row. The "text" column is
// required; without an "id" column the row number is used.
type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	idCol   int
	textCol int
	row     int64
	skipped int64
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	r := &csvReader{file: file, reader: reader, idCol: -1, textCol: -1}
	for i, column := range header {
		switch strings.ToLower(strings.TrimSpace(column)) {
		case "id":
			r.idCol = i
		case "text":
			r.textCol = i
		}
	}
	if r.textCol < 0 {
		return nil, errors.New("CSV header has no text column")
	}
	return r, nil
}

func (r *csvReader) ReadBatch(n int) ([]Record, error) {
	var batch []Record
	for len(batch) < n {
		fields, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		r.row++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.skipped++
				continue
			}
			return batch, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if r.textCol >= len(fields) {
			r.skipped++
			continue
		}

		record := Record{ID: strconv.FormatInt(r.row, 10), Text: fields[r.textCol]}
		if r.idCol >= 0 && r.idCol < len(fields) {
			record.ID = strings.TrimSpace(fields[r.idCol])
		}
		batch = append(batch, record)
	}
	return batch, nil
}

func (r *csvReader) Skipped() int64 { return r.skipped }
func (r *csvReader) Close() error   { return r.file.Close() }

type parquetReader struct {
	file   *os.File
	reader *parquet.GenericReader[Record]
}

func (r *parquetReader) ReadBatch(n int) ([]Record, error) {
	batch := make([]Record, n)
	read, err := r.reader.Read(batch)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read Parquet rows: %w", err)
	}
	return batch[:read], nil
}

func (r *parquetReader) Skipped() int64 { return 0 }

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

// jsonReader reads one JSON object per line. Blank lines are ignored.
type jsonReader struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int64
	skipped int64
}

func newJSONReader(file *os.File) *jsonReader {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &jsonReader{file: file, scanner: scanner}
}

func (r *jsonReader) ReadBatch(n int) ([]Record, error) {
	var batch []Record
	for len(batch) < n && r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			r.skipped++
			continue
		}
		if record.ID == "" {
			record.ID = strconv.FormatInt(r.line, 10)
		}
		batch = append(batch, record)
	}
	if err := r.scanner.Err(); err != nil {
		return batch, fmt.Errorf("failed to read JSON lines: %w", err)
	}
	return batch, nil
}

func (r *jsonReader) Skipped() int64 { return r.skipped }
func (r *jsonReader) Close() error   { return r.file.Close() }

type parquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[RedactedRecord]
}

func (w *parquetWriter) Write(records []RedactedRecord) error {
	_, err := w.writer.Write(records)
	return err
}

func (w *parquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}
	return w.file.Close()
}

type jsonWriter struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

func newJSONWriter(file *os.File) *jsonWriter {
	buf := bufio.NewWriter(file)
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	return &jsonWriter{file: file, buf: buf, encoder: encoder}
}

func (w *jsonWriter) Write(records []RedactedRecord) error {
	for i := range records {
		if err := w.encoder.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
