package nn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/Veraticus/lookalike/internal/common"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Device names accepted by SelectDevice.
const (
	DeviceAuto     = "auto"
	DeviceCPU      = "cpu"
	DeviceParallel = "parallel"
)

// BatchResult is the outcome of a forward and backward pass over a batch.
type BatchResult struct {
	Grads       Gradients
	Predictions []int
	// Loss is the mean cross-entropy over the batch.
	Loss    float64
	Correct int
}

// Device runs the per-sample work of a batch. Every implementation combines
// per-sample results in sample order, so a given batch yields bit-identical
// results on every device.
type Device interface {
	Name() string
	Gradients(ctx context.Context, net *Network, inputs [][]float64, labels []int) (*BatchResult, error)
	Infer(ctx context.Context, net *Network, inputs [][]float64) ([][]float64, error)
}

type sampleResult struct {
	grads Gradients
	loss  float64
	pred  int
}

func sampleGradients(net *Network, x []float64, label int, scale float64) (sampleResult, error) {
	if label < 0 || label >= net.arch.Classes {
		return sampleResult{}, fmt.Errorf("%w: label %d outside %d classes", common.ErrInput, label, net.arch.Classes)
	}
	tr, err := net.forward(x)
	if err != nil {
		return sampleResult{}, err
	}
	loss, dlogits := CrossEntropy(tr.logits, label, scale)
	return sampleResult{
		grads: net.backward(tr, dlogits),
		loss:  loss,
		pred:  Argmax(tr.logits),
	}, nil
}

func reduce(net *Network, results []sampleResult, labels []int) *BatchResult {
	out := &BatchResult{
		Grads:       NewGradients(net.arch),
		Predictions: make([]int, len(results)),
	}
	total := 0.0
	for i, r := range results {
		for p := range out.Grads {
			floats.Add(out.Grads[p], r.grads[p])
		}
		total += r.loss
		out.Predictions[i] = r.pred
		if r.pred == labels[i] {
			out.Correct++
		}
	}
	out.Loss = total / float64(len(results))
	return out
}

func checkBatch(inputs [][]float64, labels []int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: empty batch", common.ErrInput)
	}
	if len(inputs) != len(labels) {
		return fmt.Errorf("%w: %d inputs but %d labels", common.ErrInput, len(inputs), len(labels))
	}
	return nil
}

// CPU runs every sample on the calling goroutine.
type CPU struct{}

// Name implements Device.
func (CPU) Name() string {
	return DeviceCPU
}

// Gradients implements Device.
func (CPU) Gradients(ctx context.Context, net *Network, inputs [][]float64, labels []int) (*BatchResult, error) {
	if err := checkBatch(inputs, labels); err != nil {
		return nil, err
	}
	scale := 1 / float64(len(inputs))
	results := make([]sampleResult, len(inputs))
	for i := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := sampleGradients(net, inputs[i], labels[i], scale)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return reduce(net, results, labels), nil
}

// Infer implements Device.
func (CPU) Infer(ctx context.Context, net *Network, inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, x := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probs, err := net.Probabilities(x)
		if err != nil {
			return nil, err
		}
		out[i] = probs
	}
	return out, nil
}

// Parallel spreads the samples of a batch over a bounded pool of goroutines.
type Parallel struct {
	Workers int
}

// Name implements Device.
func (Parallel) Name() string {
	return DeviceParallel
}

func (p Parallel) limit() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// run calls fn for every index on the pool, turning panics into errors.
func (p Parallel) run(ctx context.Context, n int, fn func(i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit())
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("parallel worker panicked on sample %d: %v", i, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	return g.Wait()
}

// Gradients implements Device.
func (p Parallel) Gradients(ctx context.Context, net *Network, inputs [][]float64, labels []int) (*BatchResult, error) {
	if err := checkBatch(inputs, labels); err != nil {
		return nil, err
	}
	scale := 1 / float64(len(inputs))
	results := make([]sampleResult, len(inputs))
	err := p.run(ctx, len(inputs), func(i int) error {
		r, err := sampleGradients(net, inputs[i], labels[i], scale)
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reduce(net, results, labels), nil
}

// Infer implements Device.
func (p Parallel) Infer(ctx context.Context, net *Network, inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	err := p.run(ctx, len(inputs), func(i int) error {
		probs, err := net.Probabilities(inputs[i])
		if err != nil {
			return err
		}
		out[i] = probs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fallback retries a failed batch on a second device. Errors caused by the
// caller, such as bad input or cancellation, are returned as is.
type fallback struct {
	primary   Device
	secondary Device
	logger    *slog.Logger
}

// WithFallback returns a device that runs on primary and silently reruns any
// batch primary fails on using secondary.
func WithFallback(primary, secondary Device, logger *slog.Logger) Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallback) Name() string {
	return f.primary.Name()
}

func (f *fallback) retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, common.ErrInput)
}

func (f *fallback) Gradients(ctx context.Context, net *Network, inputs [][]float64, labels []int) (*BatchResult, error) {
	res, err := f.primary.Gradients(ctx, net, inputs, labels)
	if err == nil || !f.retryable(ctx, err) {
		return res, err
	}
	f.logger.Debug("Retrying batch on fallback device",
		"device", f.secondary.Name(),
		"error", err)
	return f.secondary.Gradients(ctx, net, inputs, labels)
}

func (f *fallback) Infer(ctx context.Context, net *Network, inputs [][]float64) ([][]float64, error) {
	out, err := f.primary.Infer(ctx, net, inputs)
	if err == nil || !f.retryable(ctx, err) {
		return out, err
	}
	f.logger.Debug("Retrying inference on fallback device",
		"device", f.secondary.Name(),
		"error", err)
	return f.secondary.Infer(ctx, net, inputs)
}

// SelectDevice resolves a configured device name. "auto" picks the parallel
// device when more than one CPU is available. The parallel device always
// falls back to the CPU.
func SelectDevice(name string, workers int, logger *slog.Logger) (Device, error) {
	switch name {
	case DeviceAuto, "":
		if runtime.NumCPU() > 1 {
			return SelectDevice(DeviceParallel, workers, logger)
		}
		return CPU{}, nil
	case DeviceCPU:
		return CPU{}, nil
	case DeviceParallel:
		return WithFallback(Parallel{Workers: workers}, CPU{}, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown device %q", common.ErrInvalidConfig, name)
	}
}
