package blueprint

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// evalStarlark executes a .star module and returns its classes and
// resources globals as plain Go values.
func (l *Loader) evalStarlark(ctx context.Context, m Module) (map[string]any, []ValidationError) {
	thread := &starlark.Thread{
		Name: m.Path,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Debug().Str("module", m.Path).Msg(msg)
		},
	}

	evalCtx, cancel := context.WithTimeout(ctx, l.starlarkTimeout)
	defer cancel()
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, m.Path, m.Data, predeclared)
	if err != nil {
		return nil, []ValidationError{starlarkError(err, m.Path)}
	}

	out := make(map[string]any, 2)
	for _, name := range []string{"classes", "resources"} {
		val, ok := globals[name]
		if !ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, []ValidationError{{File: m.Path, Path: name, Message: err.Error()}}
		}
		out[name] = goVal
	}
	return out, nil
}

func starlarkError(err error, file string) ValidationError {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return ValidationError{
			File:    file,
			Line:    int(serr.Pos.Line),
			Column:  int(serr.Pos.Col),
			Message: serr.Msg,
		}
	}

	var eerr *starlark.EvalError
	if errors.As(err, &eerr) {
		ve := ValidationError{File: file, Message: eerr.Msg}
		if len(eerr.CallStack) > 0 {
			pos := eerr.CallStack.At(0).Pos
			ve.Line = int(pos.Line)
			ve.Column = int(pos.Col)
		}
		return ve
	}

	return ValidationError{File: file, Message: err.Error()}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
