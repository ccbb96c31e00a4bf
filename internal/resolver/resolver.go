package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
)

var (
	// ErrImplausible 是内部信号：策略返回的条数低于可信阈值，驱动进入下一个策略。
	// 不会从 Resolve 返回。
	ErrImplausible = errors.New("implausible result size")
	// ErrAllTacticsFailed 表示计划中每个被执行的策略都以错误结束。
	ErrAllTacticsFailed = errors.New("all fetch tactics failed")
)

// Options 控制解析器的阈值与计划。
type Options struct {
	// MinPlausible 是可信阈值：条数严格大于该值即视为可信。
	MinPlausible int
	LargeLimit   int
	PageLimit    int
	Plan         []Step
	Logger       *logrus.Logger
}

// Attempt 记录一次策略执行。Err 为 ErrImplausible 表示执行成功但条数不可信。
type Attempt struct {
	Tactic    Tactic
	Count     int
	Plausible bool
	Err       error
}

// Failed 表示该策略是否以真正的错误结束。
func (a Attempt) Failed() bool {
	return a.Err != nil && !errors.Is(a.Err, ErrImplausible)
}

// Resolution 是一次解析的结果。Plausible 为 false 时表示使用了兜底结果
// （所有策略都不可信时取条数最多的一次），这是有意接受的不精确。
type Resolution struct {
	Parcels   []parcel.Parcel
	Tactic    Tactic
	Plausible bool
	Attempts  []Attempt
}

// Resolver 依次尝试计划中的策略，直到某个结果可信。
type Resolver struct {
	source Source
	opts   Options
	logger *logrus.Logger

	mu    sync.Mutex
	hints map[string]int
}

// New 构造解析器，未设置的选项使用默认值。
func New(source Source, opts Options) *Resolver {
	if opts.MinPlausible < 0 {
		opts.MinPlausible = 0
	}
	if opts.LargeLimit <= 0 {
		opts.LargeLimit = 1000
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	if len(opts.Plan) == 0 {
		opts.Plan = DefaultPlan
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		source: source,
		opts:   opts,
		logger: logger,
		hints:  make(map[string]int),
	}
}

// Hint 返回 key 上一次成功解析的条数，0 表示没有提示。
func (r *Resolver) Hint(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hints[key]
}

// Resolve 按计划执行策略，返回第一个可信的结果；都不可信时返回条数最多的结果。
// 单个策略的错误只会让该策略“没有产出”，只有全部策略都出错时才返回错误。
func (r *Resolver) Resolve(ctx context.Context, key string) (Resolution, error) {
	hint := r.Hint(key)

	var (
		res      Resolution
		best     []parcel.Parcel
		bestFrom Tactic
		haveBest bool
		errs     []error
		// agreed 为 false 表示有策略出错，或成功的策略之间条数不一致。
		agreed = true
	)

	for _, step := range r.opts.Plan {
		if step.OnlyIfEmpty && haveBest && len(best) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			agreed = false
			errs = append(errs, err)
			break
		}

		list, err := r.run(ctx, step.Tactic)
		attempt := Attempt{Tactic: step.Tactic, Count: len(list)}
		if err != nil {
			attempt.Err = err
			agreed = false
			errs = append(errs, fmt.Errorf("%s: %w", step.Tactic, err))
			res.Attempts = append(res.Attempts, attempt)
			r.logAttempt(key, attempt)
			continue
		}

		attempt.Plausible = Plausible(len(list), hint, r.opts.MinPlausible)
		if !attempt.Plausible {
			attempt.Err = ErrImplausible
		}
		res.Attempts = append(res.Attempts, attempt)
		r.logAttempt(key, attempt)

		if attempt.Plausible {
			res.Parcels = list
			res.Tactic = step.Tactic
			res.Plausible = true
			r.remember(key, len(list))
			return res, nil
		}
		if haveBest && len(list) != len(best) {
			agreed = false
		}
		if !haveBest || len(list) > len(best) {
			best = list
			bestFrom = step.Tactic
			haveBest = true
		}
	}

	if !haveBest {
		return res, fmt.Errorf("%w: %w", ErrAllTacticsFailed, errors.Join(errs...))
	}

	if best == nil {
		best = []parcel.Parcel{}
	}
	res.Parcels = best
	res.Tactic = bestFrom
	// 兜底结果只有在所有策略都成功且条数一致时才记为提示。
	if agreed {
		r.remember(key, len(best))
	}
	r.logger.WithFields(logrus.Fields{
		"action":    "resolve",
		"query_key": key,
		"tactic":    string(bestFrom),
		"count":     len(best),
		"attempts":  len(res.Attempts),
		"hinted":    agreed,
	}).Warn("resolve_last_resort")
	return res, nil
}

func (r *Resolver) remember(key string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if count > 0 {
		r.hints[key] = count
		return
	}
	delete(r.hints, key)
}

func (r *Resolver) logAttempt(key string, a Attempt) {
	fields := logrus.Fields{
		"action":    "resolve_tactic",
		"query_key": key,
		"tactic":    string(a.Tactic),
		"count":     a.Count,
		"plausible": a.Plausible,
	}
	if a.Failed() {
		fields["error"] = a.Err.Error()
		r.logger.WithFields(fields).Warn("resolve_tactic_failed")
		return
	}
	r.logger.WithFields(fields).Debug("resolve_tactic_complete")
}
