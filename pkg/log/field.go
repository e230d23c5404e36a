package log

import (
	"fmt"
	"time"
)

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, value string) Field                { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field      { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field    { return Field{Key: key, Value: value} }
func Component(name string) Field                { return Field{Key: ComponentKey, Value: name} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Stringer records the String() form of v, which keeps hex keys readable.
func Stringer(key string, v fmt.Stringer) Field { return Field{Key: key, Value: v.String()} }

// Err records err under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: ErrorKey, Value: ""}
	}
	return Field{Key: ErrorKey, Value: err.Error()}
}
