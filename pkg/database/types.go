package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Int64Array stores a list of numeric identifiers in a single column so it
// works across PostgreSQL, MySQL and SQLite.
//   - Written as a JSON array string.
//   - Read from JSON ("[1,2]") or PostgreSQL array literal ("{1,2}").
type Int64Array []int64

// Scan implements the sql.Scanner interface for reading from the database.
func (a *Int64Array) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	default:
		return errors.New("Int64Array: unsupported scan type")
	}
}

func (a *Int64Array) scanString(str string) error {
	str = strings.TrimSpace(str)

	if strings.HasPrefix(str, "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(str), &ids); err != nil {
			return err
		}
		*a = ids
		return nil
	}

	// PostgreSQL array format: {1,2,3}
	if strings.HasPrefix(str, "{") && strings.HasSuffix(str, "}") {
		str = strings.TrimSuffix(strings.TrimPrefix(str, "{"), "}")
		return a.scanList(str)
	}

	return a.scanList(str)
}

func (a *Int64Array) scanList(str string) error {
	if strings.TrimSpace(str) == "" {
		*a = Int64Array{}
		return nil
	}
	parts := strings.Split(str, ",")
	ids := make(Int64Array, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

// Value implements the driver.Valuer interface for writing to the database.
func (a Int64Array) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal([]int64(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (Int64Array) GormDataType() string {
	return "text"
}
