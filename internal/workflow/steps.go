package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

type Step string

const (
	StepVideo    Step = "video"
	StepConvert  Step = "convert"
	StepDescribe Step = "describe"
	StepHTML     Step = "html"
)

// AllSteps lists every step in execution order.
var AllSteps = []Step{StepVideo, StepConvert, StepDescribe, StepHTML}

var ErrUnknownStep = errors.New("unknown workflow step")

var stepAliases = map[string]Step{
	"extract": StepVideo,
	"frames":  StepVideo,
	"gallery": StepHTML,
	"viz":     StepHTML,
}

// ParseSteps validates step names and returns them deduplicated in execution
// order. Names may be comma separated within one argument.
func ParseSteps(names []string) ([]Step, error) {
	want := map[Step]bool{}
	for _, arg := range names {
		for _, name := range strings.Split(arg, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			s := Step(name)
			if alias, ok := stepAliases[name]; ok {
				s = alias
			}
			if !lo.Contains(AllSteps, s) {
				return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownStep, name, strings.Join(lo.Map(AllSteps, func(s Step, _ int) string { return string(s) }), ", "))
			}
			want[s] = true
		}
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("%w: no steps given", ErrUnknownStep)
	}
	return lo.Filter(AllSteps, func(s Step, _ int) bool { return want[s] }), nil
}
