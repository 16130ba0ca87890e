package rules

import (
	"fmt"

	"github.com/mbd888/txrisk/internal/validation"
)

func init() {
	if err := validation.RegisterPattern("timewindow", windowPattern); err != nil {
		panic("rules: register timewindow validation: " + err.Error())
	}
}

// Validate checks rule input before it reaches the catalog. The catalog itself
// accepts anything; rules that fail here are tolerated at evaluation time but
// never trigger.
func Validate(in RuleInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.TimeWindow != "" {
		if _, err := ParseWindow(in.TimeWindow); err != nil {
			return validation.ValidationErrors{{Field: "TimeWindow", Message: err.Error()}}
		}
	}
	if in.Condition != "" {
		if _, err := compileCondition(in.Condition); err != nil {
			return validation.ValidationErrors{{Field: "Condition", Message: fmt.Sprintf("does not compile: %v", err)}}
		}
	}
	return nil
}

// Sanitize trims free-text fields and caps their length.
func Sanitize(in RuleInput) RuleInput {
	in.Name = validation.SanitizeString(in.Name, 200)
	in.Description = validation.SanitizeString(in.Description, 2000)
	in.Condition = validation.SanitizeString(in.Condition, 2000)
	in.TimeWindow = validation.SanitizeString(in.TimeWindow, 16)
	in.MerchantCategory = validation.SanitizeString(in.MerchantCategory, 200)
	return in
}
