// Package broker runs background tasks either inline (local mode) or through a queue drained by a
// worker pool (remote mode). Tasks are plain functions registered by name.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

var (
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// Validator is checked after an argument is unpacked; for sum types it picks the variant.
type Validator interface {
	Validate() error
}

// Task is a registered function. Calling Delay schedules it.
type Task struct {
	name     string
	fn       reflect.Value
	argTypes []reflect.Type
	async    bool
	broker   *Broker
}

func (t *Task) Name() string { return t.name }

// Async reports whether the task runs concurrently on the worker instead of inline.
func (t *Task) Async() bool { return t.async }

// Delay packs args and schedules the task. In local mode it runs before Delay returns and its
// error is returned; in remote mode only packing and enqueue errors are.
func (t *Task) Delay(ctx context.Context, args ...any) error {
	return t.broker.submit(ctx, t, args)
}

func newTask(name string, fn any, async bool) (*Task, error) {
	if name == "" {
		return nil, errs.Invalid("broker.register", "empty task name")
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, errs.Invalid("broker.register", "task %s: not a function (%T)", name, fn)
	}
	ft := v.Type()
	if ft.IsVariadic() {
		return nil, errs.Invalid("broker.register", "task %s: variadic arguments are not supported", name)
	}
	if ft.NumIn() == 0 || ft.In(0) != ctxType {
		return nil, errs.Invalid("broker.register", "task %s: first argument must be context.Context", name)
	}
	if ft.NumOut() != 1 || ft.Out(0) != errorType {
		return nil, errs.Invalid("broker.register", "task %s: must return exactly one error", name)
	}
	args := make([]reflect.Type, 0, ft.NumIn()-1)
	for i := 1; i < ft.NumIn(); i++ {
		in := ft.In(i)
		switch in.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return nil, errs.Invalid("broker.register", "task %s: argument %d of kind %s cannot be packed", name, i, in.Kind())
		}
		args = append(args, in)
	}
	return &Task{name: name, fn: v, argTypes: args, async: async}, nil
}

// pack encodes every argument with the canonical codec after checking it fits the declared type.
func (t *Task) pack(args []any) ([]json.RawMessage, error) {
	if len(args) != len(t.argTypes) {
		return nil, errs.Invalid("broker.pack", "task %s wants %d arguments, got %d", t.name, len(t.argTypes), len(args))
	}
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		want := t.argTypes[i]
		if a == nil {
			switch want.Kind() {
			case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			default:
				return nil, errs.Invalid("broker.pack", "task %s argument %d: nil for %s", t.name, i, want)
			}
		} else if !reflect.TypeOf(a).AssignableTo(want) {
			return nil, errs.Invalid("broker.pack", "task %s argument %d: %T is not %s", t.name, i, a, want)
		}
		raw, err := codec.Marshal(a)
		if err != nil {
			return nil, errs.Invalid("broker.pack", "task %s argument %d: %v", t.name, i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// unpack rebuilds arguments by declared type. Interface types registered as unions try each
// variant in registration order; the first that decodes strictly and validates wins.
func (t *Task) unpack(raws []json.RawMessage, unions map[reflect.Type][]reflect.Type) ([]reflect.Value, error) {
	if len(raws) != len(t.argTypes) {
		return nil, errs.Invalid("broker.unpack", "task %s wants %d arguments, got %d", t.name, len(t.argTypes), len(raws))
	}
	out := make([]reflect.Value, len(raws))
	for i, raw := range raws {
		want := t.argTypes[i]
		if want.Kind() == reflect.Interface && want != reflect.TypeOf((*any)(nil)).Elem() {
			variants, ok := unions[want]
			if !ok {
				return nil, errs.Invalid("broker.unpack", "task %s argument %d: no variants registered for %s", t.name, i, want)
			}
			v, err := decodeVariant(raw, want, variants)
			if err != nil {
				return nil, errs.Invalid("broker.unpack", "task %s argument %d: %v", t.name, i, err)
			}
			out[i] = v
			continue
		}
		ptr := reflect.New(want)
		if err := codec.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, errs.Invalid("broker.unpack", "task %s argument %d: %v", t.name, i, err)
		}
		if err := validate(ptr); err != nil {
			return nil, errs.Invalid("broker.unpack", "task %s argument %d: %v", t.name, i, err)
		}
		out[i] = ptr.Elem()
	}
	return out, nil
}

func decodeVariant(raw []byte, iface reflect.Type, variants []reflect.Type) (reflect.Value, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return reflect.Zero(iface), nil
	}
	var lastErr error
	for _, vt := range variants {
		base := vt
		if base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		ptr := reflect.New(base)
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		dec.UseNumber()
		if err := dec.Decode(ptr.Interface()); err != nil {
			lastErr = err
			continue
		}
		if err := validate(ptr); err != nil {
			lastErr = err
			continue
		}
		if vt.Kind() == reflect.Pointer {
			return ptr, nil
		}
		return ptr.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("no variant of %s matched: %v", iface, lastErr)
}

func validate(ptr reflect.Value) error {
	if v, ok := ptr.Interface().(Validator); ok {
		return v.Validate()
	}
	if v, ok := ptr.Elem().Interface().(Validator); ok {
		return v.Validate()
	}
	return nil
}

// call invokes the task and turns panics into errors.
func (t *Task) call(ctx context.Context, args []reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	in := append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	out := t.fn.Call(in)
	if e, _ := out[0].Interface().(error); e != nil {
		return e
	}
	return nil
}
