package sqlguard

// RiskLevel is a coarse severity attached to a validation outcome.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// rank orders risk levels so the highest one wins when aggregating.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ValidationResult is the outcome of Validator.Validate.
// SanitizedSQL is empty whenever IsValid is false.
type ValidationResult struct {
	IsValid      bool      `json:"is_valid"`
	SanitizedSQL string    `json:"sanitized_sql"`
	Errors       []string  `json:"errors"`
	Warnings     []string  `json:"warnings"`
	RiskLevel    RiskLevel `json:"risk_level"`
}

// ViolationKind classifies why a statement was rejected.
type ViolationKind string

const (
	// KindInput covers empty input, over-long input and non-SELECT statements.
	KindInput ViolationKind = "input_error"

	// KindSecurity covers blocklisted tokens, unauthorized tables, missing or
	// incorrect organization filters and forbidden UNION/HAVING constructs.
	KindSecurity ViolationKind = "security_violation"

	// KindStructural covers unbalanced text, malformed clauses and UNION
	// column mismatches.
	KindStructural ViolationKind = "structural_error"
)

// Violation is a single reason for rejecting a statement.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`

	// Risk is HIGH unless the violation is a blocklist hit.
	Risk RiskLevel `json:"risk"`

	// Pattern names the threat pattern that matched, if any.
	Pattern string `json:"pattern,omitempty"`
}

func (v Violation) Error() string {
	return v.Message
}

func inputError(msg string) Violation {
	return Violation{Kind: KindInput, Message: msg, Risk: RiskHigh}
}

func securityViolation(msg string) Violation {
	return Violation{Kind: KindSecurity, Message: msg, Risk: RiskHigh}
}

func structuralError(msg string) Violation {
	return Violation{Kind: KindStructural, Message: msg, Risk: RiskHigh}
}

// rejected builds a fail-closed result from one stage's violations.
func rejected(violations []Violation) ValidationResult {
	risk := RiskHigh
	errs := make([]string, 0, len(violations))
	for _, v := range violations {
		errs = append(errs, v.Message)
		if v.Risk.rank() > risk.rank() {
			risk = v.Risk
		}
	}
	return ValidationResult{
		IsValid:      false,
		SanitizedSQL: "",
		Errors:       errs,
		Warnings:     []string{},
		RiskLevel:    risk,
	}
}

// accepted builds a successful result. Scope repairs raise the risk to MEDIUM.
func accepted(sql string, warnings []string, scopeRepaired bool) ValidationResult {
	if warnings == nil {
		warnings = []string{}
	}
	risk := RiskLow
	if scopeRepaired {
		risk = RiskMedium
	}
	return ValidationResult{
		IsValid:      true,
		SanitizedSQL: sql,
		Errors:       []string{},
		Warnings:     warnings,
		RiskLevel:    risk,
	}
}
