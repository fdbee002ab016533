package writer

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"bookflow/models"
)

// ParquetRecord is one book level row.
type ParquetRecord struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market    string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Variant   string  `parquet:"name=variant, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Nonce     int64   `parquet:"name=nonce, type=INT64"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Amount    float64 `parquet:"name=amount, type=DOUBLE"`
	OrderID   string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Count     int64   `parquet:"name=count, type=INT64"`
	Level     int32   `parquet:"name=level, type=INT32"`
}

func toRecord(e models.BookLevelEntry) ParquetRecord {
	return ParquetRecord{
		Exchange:  e.Exchange,
		Symbol:    e.Symbol,
		Market:    e.Market,
		Variant:   string(e.Variant),
		Timestamp: e.Timestamp,
		Nonce:     e.Nonce,
		Side:      e.Side,
		Price:     e.Price,
		Amount:    e.Amount,
		OrderID:   e.OrderID,
		Count:     e.Count,
		Level:     int32(e.Level),
	}
}

// memoryFile is an in-memory source.ParquetFile. Files opened from it share
// the written bytes and keep their own offset.
type memoryFile struct {
	data   *[]byte
	offset int64
}

func newMemoryFile() *memoryFile {
	return &memoryFile{data: new([]byte)}
}

func memoryFileFromBytes(b []byte) *memoryFile {
	return &memoryFile{data: &b}
}

func (f *memoryFile) Create(string) (source.ParquetFile, error) {
	return &memoryFile{data: new([]byte)}, nil
}

func (f *memoryFile) Open(string) (source.ParquetFile, error) {
	return &memoryFile{data: f.data}, nil
}

func (f *memoryFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = int64(len(*f.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative offset %d", next)
	}
	f.offset = next
	return next, nil
}

func (f *memoryFile) Read(b []byte) (int, error) {
	if f.offset >= int64(len(*f.data)) {
		return 0, io.EOF
	}
	n := copy(b, (*f.data)[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memoryFile) Write(b []byte) (int, error) {
	*f.data = append(*f.data, b...)
	f.offset = int64(len(*f.data))
	return len(b), nil
}

func (f *memoryFile) Close() error { return nil }

func (f *memoryFile) Bytes() []byte { return *f.data }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes entries into an in-memory parquet file.
func encodeParquet(entries []models.BookLevelEntry, compression string) ([]byte, error) {
	fw := newMemoryFile()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, e := range entries {
		if err := pw.Write(toRecord(e)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
