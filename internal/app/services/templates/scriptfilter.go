package templates

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/blackroad/roadtemplates/pkg/logger"
)

const (
	// DefaultFilterTimeout bounds a single script filter evaluation.
	DefaultFilterTimeout = 250 * time.Millisecond

	// MaxFilterSourceSize bounds script filter source code.
	MaxFilterSourceSize = 16 * 1024
)

// ScriptRunner compiles JavaScript filter sources into FilterFuncs.
// A source is either a function, invoked as filter(value, args...),
// for example `function(value) { return String(value).toUpperCase(); }`,
// or a plain expression evaluated with the template value bound as
// `value` and the filter arguments bound as `args`. Each evaluation
// runs in a fresh runtime and is interrupted when it exceeds the
// timeout.
type ScriptRunner struct {
	timeout time.Duration
	log     *logger.Logger
}

// NewScriptRunner constructs a runner. A non-positive timeout falls
// back to DefaultFilterTimeout.
func NewScriptRunner(timeout time.Duration, log *logger.Logger) *ScriptRunner {
	if timeout <= 0 {
		timeout = DefaultFilterTimeout
	}
	if log == nil {
		log = logger.NewDefault("scriptfilter")
	}
	return &ScriptRunner{timeout: timeout, log: log}
}

// Compile checks the source and returns a FilterFunc evaluating it.
func (r *ScriptRunner) Compile(name, source string) (FilterFunc, error) {
	if len(source) > MaxFilterSourceSize {
		return nil, fmt.Errorf("script filter %s exceeds maximum size of %d bytes", name, MaxFilterSourceSize)
	}
	// Function literals are statements-position syntax errors, so try
	// the source as a parenthesized expression first.
	program, err := goja.Compile(name, "("+source+"\n)", false)
	if err != nil {
		program, err = goja.Compile(name, source, false)
	}
	if err != nil {
		return nil, fmt.Errorf("compile script filter %s: %w", name, err)
	}

	return func(value any, args ...any) (any, error) {
		vm := goja.New()

		done := make(chan struct{})
		go func() {
			select {
			case <-time.After(r.timeout):
				vm.Interrupt("filter timeout")
			case <-done:
			}
		}()
		defer close(done)

		if err := vm.Set("value", value); err != nil {
			return nil, fmt.Errorf("script filter %s: %w", name, err)
		}
		scriptArgs := args
		if scriptArgs == nil {
			scriptArgs = []any{}
		}
		if err := vm.Set("args", scriptArgs); err != nil {
			return nil, fmt.Errorf("script filter %s: %w", name, err)
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			r.log.WithField("filter", name).WithError(err).Debug("script filter failed")
			return nil, fmt.Errorf("script filter %s: %w", name, err)
		}
		if fn, ok := goja.AssertFunction(result); ok {
			callArgs := make([]goja.Value, 0, len(scriptArgs)+1)
			callArgs = append(callArgs, vm.ToValue(value))
			for _, a := range scriptArgs {
				callArgs = append(callArgs, vm.ToValue(a))
			}
			result, err = fn(goja.Undefined(), callArgs...)
			if err != nil {
				r.log.WithField("filter", name).WithError(err).Debug("script filter failed")
				return nil, fmt.Errorf("script filter %s: %w", name, err)
			}
		}
		if result == nil || goja.IsUndefined(result) {
			return nil, fmt.Errorf("script filter %s returned no value", name)
		}
		if goja.IsNull(result) {
			return nil, nil
		}
		return result.Export(), nil
	}, nil
}
