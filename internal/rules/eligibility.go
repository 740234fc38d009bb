package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Check is one eligibility rule. Expression evaluates to true when the rule fires.
type Check struct {
	ID          string
	Severity    domain.ViolationSeverity
	Field       string
	Expression  string
	Message     string
	Remediation string
}

// DriverChecks run once per listed driver with `driver` and `policy` bound.
var DriverChecks = []Check{
	{
		ID:          "DRV-001",
		Severity:    domain.ViolationError,
		Field:       "drivers.age",
		Expression:  "driver.age < policy.min_driver_age",
		Message:     "driver is below the minimum licensing age",
		Remediation: "remove the driver or correct the date of birth",
	},
	{
		ID:          "DRV-002",
		Severity:    domain.ViolationError,
		Field:       "drivers.yearsLicensed",
		Expression:  "driver.years_licensed > driver.age - 14",
		Message:     "years licensed is not possible for the driver's age",
		Remediation: "correct the licensing history",
	},
	{
		ID:          "DRV-003",
		Severity:    domain.ViolationError,
		Field:       "drivers.violations",
		Expression:  "driver.violations > policy.max_violations",
		Message:     "violation count exceeds underwriting guidelines",
		Remediation: "refer to underwriting",
	},
	{
		ID:          "DRV-004",
		Severity:    domain.ViolationError,
		Field:       "drivers.duis",
		Expression:  "driver.duis >= 3",
		Message:     "three or more DUI convictions",
		Remediation: "refer to the non-standard market",
	},
	{
		ID:          "DRV-005",
		Severity:    domain.ViolationWarning,
		Field:       "drivers.age",
		Expression:  "driver.age >= 85",
		Message:     "driver is 85 or older",
		Remediation: "request a current driving assessment",
	},
}

// VehicleChecks run once per quote with `vehicle` and `policy` bound.
var VehicleChecks = []Check{
	{
		ID:          "VEH-001",
		Severity:    domain.ViolationError,
		Field:       "vehicle.year",
		Expression:  "vehicle.year > policy.effective_year + 1",
		Message:     "vehicle model year is in the future",
		Remediation: "correct the model year",
	},
	{
		ID:          "VEH-002",
		Severity:    domain.ViolationWarning,
		Field:       "vehicle.year",
		Expression:  "policy.effective_year - vehicle.year > 40",
		Message:     "vehicle is older than 40 years",
		Remediation: "consider a classic car policy",
	},
	{
		ID:          "VEH-003",
		Severity:    domain.ViolationWarning,
		Field:       "vehicle.usage",
		Expression:  "vehicle.usage == 'commercial' && policy.product == 'personal_auto'",
		Message:     "commercial usage on a personal auto policy",
		Remediation: "quote a commercial auto policy",
	},
	{
		ID:          "VEH-004",
		Severity:    domain.ViolationWarning,
		Field:       "vehicle.annualMileage",
		Expression:  "vehicle.annual_mileage > 50000",
		Message:     "annual mileage exceeds 50,000",
		Remediation: "verify the odometer readings",
	},
	{
		ID:          "VEH-005",
		Severity:    domain.ViolationInfo,
		Field:       "vehicle.annualMileage",
		Expression:  "vehicle.annual_mileage > 30000 && vehicle.annual_mileage <= 50000",
		Message:     "annual mileage is above 30,000",
		Remediation: "confirm the annual mileage",
	},
}

type compiledCheck struct {
	Check
	program cel.Program
}

// eligibility holds the compiled CEL catalogue.
type eligibility struct {
	env     *cel.Env
	drivers []compiledCheck
	vehicle []compiledCheck
}

func newEligibility() (*eligibility, error) {
	env, err := cel.NewEnv(
		cel.Variable("driver", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("vehicle", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("policy", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &eligibility{env: env}
	if e.drivers, err = e.compileAll(DriverChecks); err != nil {
		return nil, err
	}
	if e.vehicle, err = e.compileAll(VehicleChecks); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *eligibility) compileAll(checks []Check) ([]compiledCheck, error) {
	out := make([]compiledCheck, 0, len(checks))
	for _, c := range checks {
		compiled, err := e.compile(c)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

func (e *eligibility) compile(c Check) (compiledCheck, error) {
	ast, issues := e.env.Compile(c.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledCheck{}, fmt.Errorf("failed to compile check %s: %w", c.ID, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return compiledCheck{}, fmt.Errorf("check %s must return a bool, got %s", c.ID, t)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return compiledCheck{}, fmt.Errorf("failed to create program for check %s: %w", c.ID, err)
	}
	return compiledCheck{Check: c, program: prg}, nil
}

// fires evaluates the check. The caller reports evaluation errors as error violations.
func (c compiledCheck) fires(activation map[string]any) (bool, error) {
	out, _, err := c.program.Eval(activation)
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("check %s returned %s", c.ID, out.Type())
	}
	return bool(b), nil
}

func policyVars(in *Input) map[string]any {
	req := in.Request
	return map[string]any{
		"jurisdiction":   req.Jurisdiction,
		"product":        string(req.Product),
		"effective_year": int64(req.EffectiveDate.Year()),
		"min_driver_age": int64(in.Rules.MinimumDriverAge),
		"max_violations": int64(in.Rules.MaxViolations),
	}
}

func driverVars(d domain.Driver) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"age":            int64(d.Age),
		"years_licensed": int64(d.YearsLicensed),
		"violations":     int64(d.Violations),
		"accidents":      int64(d.Accidents),
		"duis":           int64(d.DUIs),
		"sr22_required":  d.SR22Required,
	}
}

func vehicleVars(v domain.Vehicle) map[string]any {
	return map[string]any{
		"vin":            v.VIN,
		"year":           int64(v.Year),
		"class":          string(v.Class),
		"usage":          string(v.Usage),
		"annual_mileage": int64(v.AnnualMileage),
		"modified":       v.Modified,
	}
}

func (e *eligibility) evaluate(in *Input) domain.Violations {
	var out domain.Violations
	policy := policyVars(in)

	run := func(c compiledCheck, activation map[string]any, subject string) {
		fired, err := c.fires(activation)
		if err != nil {
			out = append(out, domain.BusinessRuleViolation{
				RuleID:   c.ID,
				Severity: domain.ViolationError,
				Message:  fmt.Sprintf("evaluation error: %v", err),
				Field:    c.Field,
			})
			return
		}
		if !fired {
			return
		}
		msg := c.Message
		if subject != "" {
			msg = fmt.Sprintf("%s: %s", subject, msg)
		}
		out = append(out, domain.BusinessRuleViolation{
			RuleID:      c.ID,
			Severity:    c.Severity,
			Message:     msg,
			Field:       c.Field,
			Remediation: c.Remediation,
		})
	}

	for _, d := range in.Request.Drivers {
		activation := map[string]any{"driver": driverVars(d), "policy": policy}
		for _, c := range e.drivers {
			run(c, activation, "driver "+d.ID)
		}
	}

	activation := map[string]any{"vehicle": vehicleVars(in.Request.Vehicle), "policy": policy}
	for _, c := range e.vehicle {
		run(c, activation, "")
	}
	return out
}
