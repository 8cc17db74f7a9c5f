package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/modrun/modrun/fsutil"
	"github.com/modrun/modrun/runtime"
)

const wrapperHeader = "(function(module, exports, require, __dirname, __filename, global, jest) {"
const wrapperFooter = "\n});"

// Transformer reads a module's source from an afero filesystem and compiles
// it, wrapped in the CommonJS function header spec.md §6 describes, into a
// goja program ready to Invoke. It has no preprocessor of its own; Preprocess
// lets a caller plug one in (e.g. to strip TypeScript types) the way spec.md
// §4.2.4's "Preprocessor" config names one.
type Transformer struct {
	fs         fsutil.Fs
	vm         *goja.Runtime
	Preprocess func(src, filename string) (string, error)
}

// NewTransformer builds a Transformer bound to one Environment's goja.Runtime:
// Transform runs each compiled program on that runtime to obtain the wrapper
// function, so the wrapper belongs to that Environment.
func NewTransformer(fs fsutil.Fs, env *Environment) *Transformer {
	return &Transformer{fs: fs, vm: env.vm}
}

// Transform implements runtime.Transformer: read, optionally preprocess, wrap
// in the CommonJS function header, compile, and run the resulting program to
// obtain the callable wrapper function.
func (tr *Transformer) Transform(filename string, opts runtime.TransformOptions) (runtime.CompiledModule, error) {
	raw, err := fsutil.ReadFile(tr.fs, filename)
	if err != nil {
		return nil, err
	}
	src := string(raw)

	if tr.Preprocess != nil && !opts.IsInternalModule {
		src, err = tr.Preprocess(src, filename)
		if err != nil {
			return nil, &preprocessError{err}
		}
	}

	wrapped := wrapperHeader + src + wrapperFooter
	program, err := goja.Compile(filename, wrapped, false)
	if err != nil {
		return nil, &syntaxCompileError{err}
	}

	value, err := tr.vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("sandbox: evaluating wrapper for %q: %w", filename, err)
	}
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("sandbox: wrapper for %q did not evaluate to a function", filename)
	}
	return callable, nil
}

// syntaxCompileError and preprocessError both report IsSyntaxError() true, so
// runtime.execModule recognizes them and rewraps them as runtime.SyntaxError.
type syntaxCompileError struct{ cause error }

func (e *syntaxCompileError) Error() string  { return e.cause.Error() }
func (e *syntaxCompileError) Unwrap() error  { return e.cause }
func (e *syntaxCompileError) IsSyntaxError() bool { return true }

type preprocessError struct{ cause error }

func (e *preprocessError) Error() string  { return e.cause.Error() }
func (e *preprocessError) Unwrap() error  { return e.cause }
func (e *preprocessError) IsSyntaxError() bool { return true }
