package haven

import (
	"fmt"
	"reflect"
)

// Component is a resolved choice whose variant was registered with a
// constructor function. It couples the materialized config record with the
// constructor so that call sites can instantiate the implementation without
// knowing which variant was selected.
//
// The zero Component is an unset optional choice; Config is nil and Call
// fails.
type Component struct {
	// Name is the discriminator the variant resolved under.
	Name string
	// Config points at the materialized config record of the variant.
	Config any

	ctor reflect.Value
}

// Callable reports whether the variant carries a constructor. Variants
// registered as plain record types resolve fine but can only be inspected
// through Config.
func (c Component) Callable() bool { return c.ctor.IsValid() }

// Call invokes the variant's constructor with the materialized config as the
// first argument followed by args. When the constructor's last result is an
// error it is split off and returned; the first remaining result (if any) is
// returned as the instance.
func (c Component) Call(args ...any) (any, error) {
	if c.Config == nil {
		return nil, fmt.Errorf("component is unset")
	}
	if !c.ctor.IsValid() {
		return nil, fmt.Errorf("component %q has no constructor", c.Name)
	}

	ft := c.ctor.Type()
	if got, want := len(args)+1, ft.NumIn(); !ft.IsVariadic() && got != want {
		return nil, fmt.Errorf("component %q takes %d arguments after its config, got %d", c.Name, want-1, got-1)
	}

	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, configArg(ft.In(0), c.Config))
	for i, a := range args {
		if a == nil {
			// Untyped nil needs the parameter's type to become a value.
			idx := i + 1
			if ft.IsVariadic() && idx >= ft.NumIn()-1 {
				in = append(in, reflect.Zero(ft.In(ft.NumIn()-1).Elem()))
			} else {
				in = append(in, reflect.Zero(ft.In(idx)))
			}
			continue
		}
		in = append(in, reflect.ValueOf(a))
	}

	out := c.ctor.Call(in)
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// configArg shapes the stored *Record config to the constructor's first
// parameter, which may take the record by value or by pointer.
func configArg(param reflect.Type, cfg any) reflect.Value {
	v := reflect.ValueOf(cfg)
	if param.Kind() != reflect.Pointer && v.Kind() == reflect.Pointer {
		return v.Elem()
	}
	return v
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()
