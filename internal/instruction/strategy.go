package instruction

// Strategy is the execution approach chosen for a plan.
type Strategy string

const (
	StrategyBackgroundRemoval Strategy = "background_removal"
	StrategyMaskBased         Strategy = "mask_based"
	StrategyMultiStep         Strategy = "multi_step"
	StrategyStructuredPrompt  Strategy = "structured_prompt"
)

// SelectStrategy picks how resolved operations execute. MultiStep runs as one combined
// structured-prompt patch, never as a sequence of provider calls.
func SelectStrategy(ops []Operation) Strategy {
	for _, op := range ops {
		if r, ok := op.(*Removal); ok && r.IsBackgroundRemoval() {
			return StrategyBackgroundRemoval
		}
	}
	switch {
	case len(ops) > 1:
		return StrategyMultiStep
	case len(ops) == 1 && ops[0].Specificity() == SpecificityVeryHigh:
		return StrategyMaskBased
	}
	return StrategyStructuredPrompt
}
