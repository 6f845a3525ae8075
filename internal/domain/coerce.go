package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Timestamp layouts accepted when coercing text to a timestamp, tried
// in order. These cover the container's date/datetime text encodings.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CoerceValue converts a raw feature value to the Go representation of
// a target column type. The rules are total in the widening direction:
// any numeric or temporal value is representable as text, while
// narrowing (text to numeric, text to timestamp) fails with an error
// when the value does not parse. A nil input stays nil (a null cell).
func CoerceValue(v interface{}, t TargetType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case TargetInt64:
		return coerceInt64(v)
	case TargetFloat64:
		return coerceFloat64(v)
	case TargetString:
		return coerceString(v), nil
	case TargetTimestamp:
		return coerceTimestamp(v)
	case TargetBool:
		return coerceBool(v)
	case TargetBinary:
		return coerceBinary(v)
	default:
		return nil, fmt.Errorf("unknown target type %q", t)
	}
}

func coerceInt64(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		n := int64(x)
		if float64(n) != x {
			return nil, fmt.Errorf("value %v is not an integer", x)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as integer", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

func coerceFloat64(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", v)
	}
}

// coerceString is total: every supported raw value has a text form.
func coerceString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func coerceTimestamp(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as timestamp", x)
	case int64:
		// Epoch seconds, the only integer temporal encoding seen in
		// the wild for these containers.
		return time.Unix(x, 0).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to timestamp", v)
	}
}

func coerceBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as boolean", x)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", v)
	}
}

func coerceBinary(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to binary", v)
	}
}
