package log

import (
	"bytes"
	"time"

	"github.com/lcx/emflog/jsonenc"
)

// LogEvent is a single structured log entry under construction. Field methods
// append key/value pairs to an internal buffer and return the event for
// chaining; Msg (or End) completes the entry and hands it to the parent
// logger for output and pool reuse.
//
// Every method is safe on a nil receiver, so a disabled level costs one
// comparison and no allocation:
//
//	logger.Debug().Str("sink", name).Int("events", n).Msg("accepted")
type LogEvent struct {
	buf    *bytes.Buffer
	logger Logger
	level  Level
}

// newEvent creates an event with a pre-grown buffer. The logger's pool calls
// this for new pool entries.
func newEvent(l Logger) *LogEvent {
	e := &LogEvent{
		logger: l,
		level:  DebugLevel,
		buf:    &bytes.Buffer{},
	}
	e.buf.Grow(1024)
	return e
}

// Reset clears residual state from the previous use and opens a fresh JSON
// object. Oversized buffers are released so one huge entry does not pin its
// capacity in the pool forever.
func (e *LogEvent) Reset() {
	if e.buf.Cap() > 4096 {
		e.buf = &bytes.Buffer{}
		e.buf.Grow(1024)
	} else {
		e.buf.Reset()
	}
	e.level = DebugLevel

	jsonenc.AppendBeginMarker(e.buf)
}

// Str appends a string field.
func (e *LogEvent) Str(k string, v string) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendString(e.buf, v)
	return e
}

// Strs appends a string array field.
func (e *LogEvent) Strs(k string, v []string) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendStrings(e.buf, v)
	return e
}

// Int appends an int field.
func (e *LogEvent) Int(k string, v int) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendInt(e.buf, v)
	return e
}

// Int32 appends an int32 field.
func (e *LogEvent) Int32(k string, v int32) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendInt32(e.buf, v)
	return e
}

// Int64 appends an int64 field.
func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendInt64(e.buf, v)
	return e
}

// Int64s appends an int64 array field.
func (e *LogEvent) Int64s(k string, v []int64) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendInt64s(e.buf, v)
	return e
}

// Uint32 appends a uint32 field.
func (e *LogEvent) Uint32(k string, v uint32) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendUint32(e.buf, v)
	return e
}

// Uint64 appends a uint64 field.
func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendUint64(e.buf, v)
	return e
}

// Float32 appends a float32 field.
func (e *LogEvent) Float32(k string, v float32) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendFloat32(e.buf, v)
	return e
}

// Float64 appends a float64 field.
func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendFloat64(e.buf, v)
	return e
}

// Float64s appends a float64 array field.
func (e *LogEvent) Float64s(k string, v []float64) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendFloat64s(e.buf, v)
	return e
}

// Bool appends a bool field.
func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendBool(e.buf, v)
	return e
}

// Time appends a time field in RFC3339 form.
func (e *LogEvent) Time(k string, v *time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendTime(e.buf, v)
	return e
}

// Err appends an error field under the key "error". A nil error logs as
// null.
func (e *LogEvent) Err(v error) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, "error")
	if v != nil {
		jsonenc.AppendString(e.buf, v.Error())
	} else {
		jsonenc.AppendNil(e.buf)
	}
	return e
}

// Any appends an arbitrary value marshaled with encoding/json.
func (e *LogEvent) Any(k string, v any) *LogEvent {
	if e == nil {
		return nil
	}
	jsonenc.AppendKey(e.buf, k)
	jsonenc.AppendInterface(e.buf, v)
	return e
}

// Msg appends the final message under the key "msg" and completes the entry.
func (e *LogEvent) Msg(v string) {
	if e == nil {
		return
	}
	e.Str("msg", v)
	e.End()
}

// End closes the entry and hands it to the logger's appenders. Msg calls it
// implicitly; call it directly when no message field is wanted.
func (e *LogEvent) End() {
	if e == nil {
		return
	}

	jsonenc.AppendEndMarker(e.buf)
	jsonenc.AppendLineBreak(e.buf)

	e.logger.OnEventEnd(e)
}
