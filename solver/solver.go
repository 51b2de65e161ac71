// Package solver bridges bundle adjustment costs to a nonlinear least squares
// optimizer. A Problem collects residual blocks over caller owned parameter
// slices, and Solve drives nlopt's gradient based SLSQP over the free
// parameters, writing the optimized values back into the caller's slices.
package solver

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-nlopt/nlopt"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/openterra/stereopipeline/bundleadjust"
	"github.com/openterra/stereopipeline/logging"
)

var (
	errNoResiduals = errors.New("problem has no residual blocks")
	errAllConstant = errors.New("every parameter block is held constant")
)

const (
	defaultMaxEvaluations = 200000
	defaultTolerance      = 1e-8
	// defaultJump is the forward difference step for the numeric gradient.
	defaultJump = 1e-8
)

// Loss reshapes a residual block's squared norm before it enters the total
// cost. A nil Loss leaves the squared norm untouched.
type Loss func(squaredNorm float64) float64

// CauchyLoss damps the influence of outlier residual blocks: near zero it is
// the identity, for large squared norms it grows only logarithmically. A
// nonpositive scale disables the reshaping.
func CauchyLoss(scale float64) Loss {
	if scale <= 0 {
		return func(s float64) float64 { return s }
	}
	c2 := scale * scale
	return func(s float64) float64 { return c2 * math.Log1p(s/c2) }
}

// ProblemParams configures a Problem.
type ProblemParams struct {
	Logger logging.Logger
	// MaxEvaluations caps the total number of cost evaluations across the
	// run, gradient probes included. Zero means the default.
	MaxEvaluations int
	// Tolerance is the relative cost and parameter improvement below which
	// the optimizer stops. Zero means the default.
	Tolerance float64
	Clock     clock.Clock
}

// Validate validates that p contains usable parameters.
func (p ProblemParams) Validate() error {
	if p.MaxEvaluations < 0 {
		return errors.Errorf("max evaluations must not be negative, got %d", p.MaxEvaluations)
	}
	if p.Tolerance < 0 {
		return errors.Errorf("tolerance must not be negative, got %v", p.Tolerance)
	}
	return nil
}

type residualBlock struct {
	cost   bundleadjust.Cost
	loss   Loss
	blocks [][]float64
}

type paramBlock struct {
	values   []float64
	constant bool
}

// Problem accumulates residual blocks and the parameter blocks they touch.
// Parameter blocks are identified by their backing memory, so two costs
// registered over the same slice share the parameters. A Problem is built up
// from one goroutine and solved once.
type Problem struct {
	logger    logging.Logger
	clock     clock.Clock
	maxEval   int
	tolerance float64

	residuals []*residualBlock
	blocks    []*paramBlock
	index     map[*float64]*paramBlock
}

type optimizeReturn struct {
	solution []float64
	err      error
}

// NewProblem returns an empty adjustment problem.
func NewProblem(params ProblemParams) (*Problem, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Logger == nil {
		params.Logger = logging.NewLogger("solver")
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.MaxEvaluations == 0 {
		params.MaxEvaluations = defaultMaxEvaluations
	}
	if params.Tolerance == 0 {
		params.Tolerance = defaultTolerance
	}
	return &Problem{
		logger:    params.Logger,
		clock:     params.Clock,
		maxEval:   params.MaxEvaluations,
		tolerance: params.Tolerance,
		index:     map[*float64]*paramBlock{},
	}, nil
}

// AddResidualBlock registers a cost over the given parameter blocks, which
// must match the cost's declared block sizes. The blocks stay owned by the
// caller; Solve reads and writes them in place.
func (p *Problem) AddResidualBlock(cost bundleadjust.Cost, loss Loss, blocks ...[]float64) error {
	if cost == nil {
		return errors.New("residual block needs a cost")
	}
	sizes := cost.BlockSizes()
	if len(blocks) != len(sizes) {
		return errors.Errorf("cost declares %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	for i, size := range sizes {
		if len(blocks[i]) != size {
			return errors.Errorf("parameter block %d has %d values, expected %d", i, len(blocks[i]), size)
		}
		if size == 0 {
			return errors.Errorf("parameter block %d is empty", i)
		}
	}
	for _, block := range blocks {
		key := &block[0]
		registered, ok := p.index[key]
		if !ok {
			registered = &paramBlock{values: block}
			p.index[key] = registered
			p.blocks = append(p.blocks, registered)
		} else if len(registered.values) != len(block) {
			return errors.Errorf("parameter block registered twice with sizes %d and %d",
				len(registered.values), len(block))
		}
	}
	p.residuals = append(p.residuals, &residualBlock{cost: cost, loss: loss, blocks: blocks})
	return nil
}

// SetBlockConstant excludes a registered parameter block from optimization.
// Its values are still read by every cost that uses it.
func (p *Problem) SetBlockConstant(block []float64) error {
	if len(block) == 0 {
		return errors.New("cannot hold an empty parameter block constant")
	}
	registered, ok := p.index[&block[0]]
	if !ok {
		return errors.New("parameter block is not part of this problem")
	}
	registered.constant = true
	return nil
}

// NumResidualBlocks returns the number of registered costs.
func (p *Problem) NumResidualBlocks() int {
	return len(p.residuals)
}

// NumParameterBlocks returns the number of distinct parameter blocks.
func (p *Problem) NumParameterBlocks() int {
	return len(p.blocks)
}

// NumFreeParameters returns the total number of values the solver may change.
func (p *Problem) NumFreeParameters() int {
	n := 0
	for _, b := range p.blocks {
		if !b.constant {
			n += len(b.values)
		}
	}
	return n
}

// Result summarizes one Solve run. Costs are half the loss adjusted sum of
// squared residuals, the quantity the optimizer minimizes.
type Result struct {
	InitialCost float64
	FinalCost   float64
	Evaluations int
	Duration    time.Duration
}

// Solve optimizes the free parameter blocks in place and reports the initial
// and final costs. The parameters are never left worse than they started: if
// the optimizer cannot improve on the seed, the seed values are restored.
func (p *Problem) Solve(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.residuals) == 0 {
		return nil, errNoResiduals
	}
	dim := p.NumFreeParameters()
	if dim == 0 {
		return nil, errAllConstant
	}

	x0 := p.gather(make([]float64, dim))
	scratches := make([][]float64, len(p.residuals))
	for i, rb := range p.residuals {
		scratches[i] = make([]float64, rb.cost.NumResiduals())
	}

	start := p.clock.Now()
	evaluations := 1
	initial := p.evaluateAt(x0, scratches)
	p.summarize("residuals before adjustment", scratches)

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(dim))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	// Gradient is, under the hood, an unsafe C structure that we are meant to
	// mutate in place.
	xTest := make([]float64, dim)
	minFunc := func(x, gradient []float64) float64 {
		evaluations++
		total := p.evaluateAt(x, scratches)
		if len(gradient) > 0 {
			copy(xTest, x)
			for i := range gradient {
				xTest[i] += defaultJump
				evaluations++
				probed := p.evaluateAt(xTest, scratches)
				gradient[i] = (probed - total) / defaultJump
				xTest[i] = x[i]
			}
		}
		return total
	}

	err = multierr.Combine(
		opt.SetFtolRel(p.tolerance),
		opt.SetFtolAbs(p.tolerance),
		opt.SetXtolRel(p.tolerance),
		opt.SetMinObjective(minFunc),
		opt.SetMaxEval(p.maxEval),
	)
	if err != nil {
		return nil, err
	}

	var activeSolvers sync.WaitGroup
	solveChan := make(chan *optimizeReturn, 1)
	activeSolvers.Add(1)
	utils.PanicCapturingGo(func() {
		defer activeSolvers.Done()
		solution, _, err := opt.Optimize(x0)
		solveChan <- &optimizeReturn{solution, err}
	})

	var solved *optimizeReturn
	select {
	case <-ctx.Done():
		stopErr := opt.ForceStop()
		activeSolvers.Wait()
		return nil, multierr.Combine(ctx.Err(), stopErr)
	case solved = <-solveChan:
	}
	if solved.err != nil && solved.solution == nil {
		return nil, errors.Wrap(solved.err, "nlopt optimize error")
	}
	if solved.err != nil {
		// nlopt reports roundoff trouble and forced stops as errors even when
		// it improved the parameters; keep whatever it found.
		p.logger.Debugw("nlopt stopped early", "error", solved.err)
	}

	final := initial
	if solved.solution != nil {
		evaluations++
		cost := p.evaluateAt(solved.solution, scratches)
		if cost < initial {
			final = cost
		} else {
			evaluations++
			p.evaluateAt(x0, scratches)
		}
	}
	p.summarize("residuals after adjustment", scratches)

	return &Result{
		InitialCost: initial,
		FinalCost:   final,
		Evaluations: evaluations,
		Duration:    p.clock.Since(start),
	}, nil
}

// gather flattens the free blocks into x in registration order.
func (p *Problem) gather(x []float64) []float64 {
	i := 0
	for _, b := range p.blocks {
		if b.constant {
			continue
		}
		copy(x[i:], b.values)
		i += len(b.values)
	}
	return x
}

// scatter writes x back into the free blocks in registration order.
func (p *Problem) scatter(x []float64) {
	i := 0
	for _, b := range p.blocks {
		if b.constant {
			continue
		}
		copy(b.values, x[i:i+len(b.values)])
		i += len(b.values)
	}
}

// evaluateAt scatters x into the parameter blocks and computes half the loss
// adjusted sum of squared residuals. Failed cost evaluations contribute their
// sentinel residuals, which is enough to steer the optimizer away.
func (p *Problem) evaluateAt(x []float64, scratches [][]float64) float64 {
	p.scatter(x)
	total := 0.0
	for i, rb := range p.residuals {
		residuals := scratches[i]
		rb.cost.Evaluate(rb.blocks, residuals)
		s := 0.0
		for _, r := range residuals {
			s += r * r
		}
		if rb.loss != nil {
			s = rb.loss(s)
		}
		total += s
	}
	return total / 2
}

func (p *Problem) summarize(label string, scratches [][]float64) {
	norms := make([]float64, len(scratches))
	for i, residuals := range scratches {
		s := 0.0
		for _, r := range residuals {
			s += r * r
		}
		norms[i] = math.Sqrt(s)
	}
	median, err := stats.Median(norms)
	max, err2 := stats.Max(norms)
	if err != nil || err2 != nil {
		return
	}
	p.logger.Debugw(label, "blocks", len(norms), "median", median, "max", max)
}
