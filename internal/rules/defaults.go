package rules

// DefaultRules returns the starter catalog loaded by the simulator.
func DefaultRules() []RuleInput {
	return []RuleInput{
		{
			Name:        "High Velocity (1m)",
			Description: "Three or more transactions from the same user within one minute",
			Category:    CategoryVelocity,
			Action:      ActionFlag,
			Threshold:   3,
			TimeWindow:  "1m",
			Active:      true,
			Priority:    100,
		},
		{
			Name:        "Large Amount Review",
			Description: "Send transactions of 5000 or more to manual review",
			Category:    CategoryAmount,
			Action:      ActionFlag,
			Threshold:   5000,
			Active:      true,
			Priority:    90,
		},
		{
			Name:        "Suspicious Device",
			Description: "Device risk signal at or above 70",
			Category:    CategoryDevice,
			Action:      ActionFlag,
			Threshold:   70,
			Active:      true,
			Priority:    60,
		},
		{
			Name:        "Night-time Activity",
			Description: "Transactions during the night window",
			Category:    CategoryTime,
			Action:      ActionFlag,
			Threshold:   60,
			Active:      true,
			Priority:    50,
		},
		{
			Name:        "High Risk Merchant Limit",
			Description: "Limit spend at high-risk merchant categories",
			Category:    CategoryMerchant,
			Action:      ActionLimit,
			Threshold:   75,
			Active:      true,
			Priority:    40,
		},
		{
			Name:             "Gambling Burst (1h)",
			Description:      "Repeated gambling purchases by the same user within an hour",
			Category:         CategoryVelocity,
			Action:           ActionBlock,
			Threshold:        3,
			TimeWindow:       "1h",
			MerchantCategory: "Gambling",
			Active:           true,
			Priority:         30,
		},
		{
			Name:        "High Risk Location Block",
			Description: "Block transactions from high-risk countries",
			Category:    CategoryLocation,
			Action:      ActionBlock,
			Threshold:   90,
			Active:      false,
			Priority:    20,
		},
	}
}

// Seed adds every input to c and returns the stored rules.
func Seed(c *Catalog, inputs []RuleInput) []BusinessRule {
	out := make([]BusinessRule, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, c.Add(in))
	}
	return out
}
