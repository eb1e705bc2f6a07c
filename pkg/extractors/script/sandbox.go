package script

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrForbidden is thrown into scripts that reach for a disabled global.
var ErrForbidden = errors.New("operation is not allowed in digest scripts")

var removedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"setTimeout",
	"setInterval",
}

var frozenBuiltins = []string{
	"Object", "Array", "Function", "String", "Number",
	"Boolean", "Date", "RegExp", "Error", "Math", "JSON",
}

// sandbox strips host globals from a runtime and freezes the builtins so a
// script cannot tamper with them between calls.
func sandbox(vm *goja.Runtime) error {
	for _, name := range removedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}

	if err := vm.Set("eval", func(goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(fmt.Errorf("eval: %w", ErrForbidden)))
	}); err != nil {
		return fmt.Errorf("restrict eval: %w", err)
	}

	freeze, err := vm.RunString(`(function (o) {
		if (o) {
			Object.freeze(o);
			if (o.prototype) { Object.freeze(o.prototype); }
		}
	})`)
	if err != nil {
		return fmt.Errorf("compile freeze: %w", err)
	}
	freezeFn, ok := goja.AssertFunction(freeze)
	if !ok {
		return fmt.Errorf("freeze is not a function")
	}

	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freezeFn(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("freeze %s: %w", name, err)
		}
	}

	return nil
}
