package instruction

// Conflict records the operations on one target that collapsed into a single winner.
type Conflict struct {
	Target     string   `json:"target"`
	Winner     string   `json:"winner"`
	Overridden []string `json:"overridden"`
}

// referents are color-change targets that point back at the previous operation's target.
var referents = map[string]bool{"it": true, "them": true, "this": true, "that": true, "one": true}

// Resolve collapses operations sharing a target: the last one in original order wins and
// takes the position of the last member. An Addition followed by a ColorChange of the same
// item merges into one colored Addition. Operations targeting "unknown" never conflict.
// Winners are annotated in place.
func Resolve(ops []Operation) ([]Operation, []Conflict) {
	resolveReferents(ops)

	groups := make(map[string][]int)
	for i, op := range ops {
		if t := op.Target(); t != UnknownTarget {
			groups[t] = append(groups[t], i)
		}
	}

	out := make([]Operation, 0, len(ops))
	var conflicts []Conflict
	for i, op := range ops {
		t := op.Target()
		members := groups[t]
		if t == UnknownTarget || len(members) == 1 {
			out = append(out, op)
			continue
		}
		if i != members[len(members)-1] {
			continue
		}

		group := make([]Operation, len(members))
		for k, idx := range members {
			group[k] = ops[idx]
		}
		winner, overridden := pickWinner(group)
		src := winner.source()
		src.ConflictResolved = true
		src.Overridden = overridden
		out = append(out, winner)
		conflicts = append(conflicts, Conflict{Target: t, Winner: label(winner), Overridden: overridden})
	}
	return out, conflicts
}

func pickWinner(group []Operation) (Operation, []string) {
	last := group[len(group)-1]
	if cc, ok := last.(*ColorChange); ok {
		for k := len(group) - 2; k >= 0; k-- {
			add, ok := group[k].(*Addition)
			if !ok {
				continue
			}
			merged := *add
			merged.Detail = cc.NewColor + " " + firstNonEmpty(add.Detail, add.Item)
			merged.Overridden = nil
			return &merged, labelsExcept(group, k)
		}
	}
	return last, labelsExcept(group, len(group)-1)
}

func resolveReferents(ops []Operation) {
	for i := 1; i < len(ops); i++ {
		cc, ok := ops[i].(*ColorChange)
		if !ok || !referents[cc.TargetNoun] {
			continue
		}
		prev := ops[i-1].Target()
		if prev == UnknownTarget || prev == BackgroundTarget || referents[prev] {
			continue
		}
		cc.TargetNoun = prev
	}
}

func labelsExcept(group []Operation, skip int) []string {
	out := make([]string, 0, len(group)-1)
	for k, op := range group {
		if k != skip {
			out = append(out, label(op))
		}
	}
	return out
}

// label names an operation by its phrase, or its description when it was built directly.
func label(op Operation) string {
	if p := op.source().Phrase; p != "" {
		return p
	}
	return op.Describe()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
