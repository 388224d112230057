package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vitebski/rowshift/pkg/models"
)

// normalizeValue converts a scanned value into the form it is re-inserted
// in, directed by the column's declared type
func normalizeValue(typ models.ColumnType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch typ {
	case models.ColumnTypeJSON:
		switch v := value.(type) {
		case []byte:
			return CanonicalJSON(v)
		case string:
			return CanonicalJSON([]byte(v))
		default:
			return marshalCanonical(v)
		}
	case models.ColumnTypeBinary:
		// bytes are copied verbatim, whatever their encoding
		return value, nil
	case models.ColumnTypeInteger:
		switch v := value.(type) {
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
		return value, nil
	}

	switch v := value.(type) {
	case []byte:
		return string(v), nil
	case map[string]interface{}, []interface{}:
		// structured values are stored as their serialized text
		return marshalCanonical(v)
	}
	return value, nil
}

// CanonicalJSON re-serializes a JSON document with sorted object keys and
// no insignificant whitespace
func CanonicalJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("invalid json: trailing data after document")
	}
	return marshalCanonical(v)
}

func marshalCanonical(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
