package policyloader

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// RuleVariables are the derived quantities a CEL rule may reference.
// Names match the ViabilitySnapshot JSON keys.
var RuleVariables = []string{
	"radius", "wallThickness", "hullArea", "dutyCycle", "dutyEffective",
	"tileCount", "tileArea", "gammaGeo", "targetVelocity",
	"TS_ratio", "M_exotic", "M_target", "qiMargin", "thetaCal", "gammaVdB",
	"T00_min", "T00_max", "P_avg",
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Rule is a compiled CEL constraint from the policy document.
type Rule struct {
	ID          string
	Severity    contracts.Severity
	Description string
	Expression  string
	Variables   []string

	program cel.Program
}

func newRuleEnv() (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(RuleVariables)+1)
	opts = append(opts, cel.CrossTypeNumericComparisons(true))
	for _, name := range RuleVariables {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	return cel.NewEnv(opts...)
}

func compileRule(env *cel.Env, spec ConstraintSpec) (*Rule, error) {
	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("constraint %s: compile: %w", spec.ID, issues.Err())
	}
	if ast.OutputType().String() != cel.BoolType.String() {
		return nil, fmt.Errorf("constraint %s: expression must be bool, got %s", spec.ID, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("constraint %s: program: %w", spec.ID, err)
	}
	return &Rule{
		ID:          spec.ID,
		Severity:    spec.Severity,
		Description: spec.Description,
		Expression:  spec.Expression,
		Variables:   referencedVariables(spec.Expression),
		program:     prg,
	}, nil
}

func referencedVariables(expr string) []string {
	known := make(map[string]struct{}, len(RuleVariables))
	for _, v := range RuleVariables {
		known[v] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, tok := range identRe.FindAllString(expr, -1) {
		if _, ok := known[tok]; !ok {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Eval runs the rule over vars. When a referenced variable is absent the
// rule is not evaluated and the missing names are returned.
func (r *Rule) Eval(vars map[string]float64) (passed bool, missing []string, err error) {
	activation := make(map[string]any, len(r.Variables))
	for _, name := range r.Variables {
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		activation[name] = v
	}
	if len(missing) > 0 {
		return false, missing, nil
	}
	out, _, err := r.program.Eval(activation)
	if err != nil {
		return false, nil, fmt.Errorf("policyloader: rule %s: eval: %w", r.ID, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, nil, fmt.Errorf("policyloader: rule %s: result not bool", r.ID)
	}
	return val, nil, nil
}
