// Package columnar converts row collections to and from the Arrow IPC stream
// format used on the wire between the gateway and its clients.
package columnar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/bqbridge/bqbridge/internal/jsonvalue"
)

// ContentType is the media type of an encoded buffer.
const ContentType = "application/vnd.apache.arrow.stream"

const (
	encodingMetadataKey = "bqbridge.encoding"
	encodingJSON        = "json"
)

// ColumnType is the logical type of a decoded column.
type ColumnType string

const (
	TypeNull      ColumnType = "null"
	TypeBoolean   ColumnType = "boolean"
	TypeInt64     ColumnType = "int64"
	TypeFloat64   ColumnType = "float64"
	TypeString    ColumnType = "string"
	TypeBinary    ColumnType = "binary"
	TypeTimestamp ColumnType = "timestamp"
	TypeDate      ColumnType = "date"
	TypeJSON      ColumnType = "json"
	TypeOther     ColumnType = "other"
)

type Column struct {
	Name string
	Type ColumnType
}

// Table is a decoded buffer: its column set and one Row per record. Every
// row carries every column, in column order.
type Table struct {
	Columns []Column
	Rows    []Row
}

// EncodeRows encodes rows as an Arrow IPC stream. The column set is the union
// of row keys in first-seen order; rows lacking a key get null in that column.
// An empty input yields a valid stream with no columns and no records.
//
// A column mixing integers and floats is Float64 unless one of its integers
// has no exact float64 form, in which case it is carried as JSON. Timestamps
// are stored with microsecond precision; finer digits are truncated.
func EncodeRows(rows []Row) ([]byte, error) {
	names, index := columnNames(rows)
	cells := make([][]any, len(names))
	for c := range cells {
		cells[c] = make([]any, len(rows))
	}
	for r, row := range rows {
		for _, field := range row {
			cells[index[field.Name]][r] = field.Value
		}
	}

	kinds := make([]valueKind, len(names))
	fields := make([]arrow.Field, len(names))
	for c, name := range names {
		kind := kindNull
		for r, value := range cells[c] {
			normalized, valueKind := normalizeCell(value)
			cells[c][r] = normalized
			kind = mergeKinds(kind, valueKind)
		}
		if kind == kindFloat && !integersExactAsFloat(cells[c]) {
			kind = kindJSON
		}
		kinds[c] = kind
		fields[c] = arrow.Field{Name: name, Type: kind.arrowType(), Nullable: true}
		if kind == kindJSON {
			fields[c].Metadata = arrow.NewMetadata([]string{encodingMetadataKey}, []string{encodingJSON})
		}
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.DefaultAllocator
	buf := bytes.NewBuffer(nil)
	writer := ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	if len(rows) > 0 {
		builder := array.NewRecordBuilder(mem, schema)
		defer builder.Release()
		columns := make([]arrow.Array, len(names))
		for c := range names {
			if err := appendColumn(builder.Field(c), kinds[c], cells[c]); err != nil {
				return nil, fmt.Errorf("encode column %q: %w", names[c], err)
			}
			columns[c] = builder.Field(c).NewArray()
			defer columns[c].Release()
		}
		// The row count is explicit so rows without any keys still count.
		record := array.NewRecord(schema, columns, int64(len(rows)))
		defer record.Release()
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write record batch: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close columnar writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows decodes buf into rows keyed by the buffer's column names.
func DecodeRows(buf []byte) ([]Row, error) {
	table, err := DecodeTable(buf)
	if err != nil {
		return nil, err
	}
	return table.Rows, nil
}

// DecodeTable decodes buf, keeping the column descriptions. Buffers produced
// elsewhere are accepted; types this package does not write decode through
// the generic Arrow accessor.
func DecodeTable(buf []byte) (Table, error) {
	reader, err := ipc.NewReader(bytes.NewReader(buf), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return Table{}, &DecodeError{Op: "read stream header", Err: err}
	}
	defer reader.Release()

	schema := reader.Schema()
	columns := make([]Column, len(schema.Fields()))
	for i, field := range schema.Fields() {
		columns[i] = Column{Name: field.Name, Type: columnType(field)}
	}

	rows := make([]Row, 0)
	for reader.Next() {
		record := reader.Record()
		for i := 0; i < int(record.NumRows()); i++ {
			row := make(Row, len(columns))
			for c, column := range columns {
				value, err := cellValue(record.Column(c), i, column.Type)
				if err != nil {
					return Table{}, &DecodeError{Op: fmt.Sprintf("decode column %q", column.Name), Err: err}
				}
				row[c] = Field{Name: column.Name, Value: value}
			}
			rows = append(rows, row)
		}
	}
	if err := reader.Err(); err != nil {
		return Table{}, &DecodeError{Op: "read record batch", Err: err}
	}
	return Table{Columns: columns, Rows: rows}, nil
}

func columnNames(rows []Row) ([]string, map[string]int) {
	names := make([]string, 0)
	index := map[string]int{}
	for _, row := range rows {
		for _, field := range row {
			if _, seen := index[field.Name]; seen {
				continue
			}
			index[field.Name] = len(names)
			names = append(names, field.Name)
		}
	}
	return names, index
}

type valueKind int

const (
	kindNull valueKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindBinary
	kindTime
	kindJSON
)

func (k valueKind) arrowType() arrow.DataType {
	switch k {
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBinary:
		return arrow.BinaryTypes.Binary
	case kindTime:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case kindString, kindJSON:
		return arrow.BinaryTypes.String
	default:
		return arrow.Null
	}
}

func mergeKinds(current, next valueKind) valueKind {
	switch {
	case current == kindNull:
		return next
	case next == kindNull, current == next:
		return current
	case (current == kindInt && next == kindFloat) || (current == kindFloat && next == kindInt):
		return kindFloat
	default:
		return kindJSON
	}
}

func normalizeCell(value any) (any, valueKind) {
	switch v := value.(type) {
	case nil:
		return nil, kindNull
	case bool:
		return v, kindBool
	case int:
		return int64(v), kindInt
	case int8:
		return int64(v), kindInt
	case int16:
		return int64(v), kindInt
	case int32:
		return int64(v), kindInt
	case int64:
		return v, kindInt
	case uint8:
		return int64(v), kindInt
	case uint16:
		return int64(v), kindInt
	case uint32:
		return int64(v), kindInt
	case uint:
		return normalizeUnsigned(uint64(v))
	case uint64:
		return normalizeUnsigned(v)
	case float32:
		return float64(v), kindFloat
	case float64:
		return v, kindFloat
	case json.Number:
		return normalizeCell(jsonvalue.Normalize(v))
	case string:
		return v, kindString
	case []byte:
		return v, kindBinary
	case time.Time:
		return v, kindTime
	default:
		return v, kindJSON
	}
}

func integersExactAsFloat(values []any) bool {
	for _, value := range values {
		n, ok := value.(int64)
		if !ok {
			continue
		}
		f := float64(n)
		if f >= math.MaxInt64 || int64(f) != n {
			return false
		}
	}
	return true
}

// jsonCell encodes a JSON column cell. Top-level floats keep a fraction or
// exponent so they decode as float64 rather than int64.
func jsonCell(value any) (string, error) {
	f, ok := value.(float64)
	if !ok {
		encoded, err := json.Marshal(value)
		return string(encoded), err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("unsupported float value %v", f)
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return text, nil
}

func normalizeUnsigned(v uint64) (any, valueKind) {
	if v <= math.MaxInt64 {
		return int64(v), kindInt
	}
	return float64(v), kindFloat
}

func appendColumn(builder array.Builder, kind valueKind, values []any) error {
	for _, value := range values {
		if value == nil {
			builder.AppendNull()
			continue
		}
		switch b := builder.(type) {
		case *array.BooleanBuilder:
			b.Append(value.(bool))
		case *array.Int64Builder:
			b.Append(value.(int64))
		case *array.Float64Builder:
			switch n := value.(type) {
			case int64:
				b.Append(float64(n))
			default:
				b.Append(n.(float64))
			}
		case *array.BinaryBuilder:
			b.Append(value.([]byte))
		case *array.TimestampBuilder:
			b.Append(arrow.Timestamp(value.(time.Time).UnixMicro()))
		case *array.StringBuilder:
			if kind != kindJSON {
				b.Append(value.(string))
				continue
			}
			encoded, err := jsonCell(value)
			if err != nil {
				return err
			}
			b.Append(encoded)
		default:
			return fmt.Errorf("unsupported builder %T", builder)
		}
	}
	return nil
}

func columnType(field arrow.Field) ColumnType {
	switch field.Type.ID() {
	case arrow.NULL:
		return TypeNull
	case arrow.BOOL:
		return TypeBoolean
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return TypeInt64
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return TypeFloat64
	case arrow.STRING, arrow.LARGE_STRING:
		if idx := field.Metadata.FindKey(encodingMetadataKey); idx >= 0 && field.Metadata.Values()[idx] == encodingJSON {
			return TypeJSON
		}
		return TypeString
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return TypeBinary
	case arrow.TIMESTAMP:
		return TypeTimestamp
	case arrow.DATE32, arrow.DATE64:
		return TypeDate
	default:
		return TypeOther
	}
}

func cellValue(arr arrow.Array, i int, typ ColumnType) (any, error) {
	if _, ok := arr.(*array.Null); ok || arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		text := strings.Clone(a.Value(i))
		if typ == TypeJSON {
			return jsonvalue.Unmarshal([]byte(text))
		}
		return text, nil
	case *array.Binary:
		return bytes.Clone(a.Value(i)), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), nil
	}
	return genericValue(arr.GetOneForMarshal(i))
}

func genericValue(value any) (any, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return jsonvalue.Unmarshal(v)
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		normalized, _ := normalizeUnsigned(v)
		return normalized, nil
	case float32:
		return float64(v), nil
	default:
		return value, nil
	}
}
