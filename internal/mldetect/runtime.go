package mldetect

import (
	"errors"
	"fmt"

	"github.com/motion-play/hoopsense/internal/tinyml"
)

var (
	// ErrNoModel is returned by Init when neither a model artifact nor an
	// interpreter was supplied.
	ErrNoModel = errors.New("mldetect: no model artifact")
	// ErrModelShape is returned when the model's input or output does not
	// match the detector's window and class layout.
	ErrModelShape = errors.New("mldetect: model input/output shape mismatch")
)

// Interpreter is the inference capability the detector drives. Input and
// Output return float32 views that stay valid until Close.
type Interpreter interface {
	Input() []float32
	Invoke() error
	Output() []float32
}

// tinymlRuntime owns an arena carved from a pool and the interpreter
// placed in it.
type tinymlRuntime struct {
	interp  *tinyml.Interpreter
	in, out []float32
	pool    tinyml.Pool
	size    int
}

func (r *tinymlRuntime) Input() []float32 { return r.in }
func (r *tinymlRuntime) Invoke() error    { return r.interp.Invoke() }
func (r *tinymlRuntime) Output() []float32 {
	return r.out
}

func (r *tinymlRuntime) release() {
	if r.pool != nil {
		r.pool.Release(r.size)
		r.pool = nil
	}
}

// loadRuntime decodes the artifact, allocates the arena from the largest
// pool and lays out the tensors. Every failure is returned; nothing is
// retried against a smaller pool.
func loadRuntime(artifact []byte, cfg Config, pools []tinyml.Pool) (*tinymlRuntime, error) {
	if len(artifact) == 0 {
		return nil, ErrNoModel
	}
	model, err := tinyml.DecodeModel(artifact)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	arena, pool, err := tinyml.AllocateArena(cfg.ArenaSize, pools...)
	if err != nil {
		return nil, fmt.Errorf("allocate tensor arena: %w", err)
	}
	rt := &tinymlRuntime{pool: pool, size: len(arena)}

	interp, err := tinyml.NewInterpreter(model, arena)
	if err != nil {
		rt.release()
		return nil, fmt.Errorf("create interpreter: %w", err)
	}
	if err := interp.AllocateTensors(); err != nil {
		rt.release()
		return nil, fmt.Errorf("allocate tensors: %w", err)
	}
	rt.interp = interp

	in, out := interp.Input(0), interp.Output(0)
	if in == nil || out == nil || in.Type != tinyml.TypeFloat32 || out.Type != tinyml.TypeFloat32 {
		rt.release()
		return nil, fmt.Errorf("%w: model input and output must be float32", ErrModelShape)
	}
	rt.in, rt.out = in.Float32(), out.Float32()
	if err := checkShape(rt, cfg); err != nil {
		rt.release()
		return nil, err
	}
	return rt, nil
}

func checkShape(it Interpreter, cfg Config) error {
	if n := len(it.Input()); n != cfg.WindowMs*NumPositions {
		return fmt.Errorf("%w: input holds %d values, want %d", ErrModelShape, n, cfg.WindowMs*NumPositions)
	}
	if n := len(it.Output()); n != NumClasses {
		return fmt.Errorf("%w: output holds %d values, want %d", ErrModelShape, n, NumClasses)
	}
	return nil
}
