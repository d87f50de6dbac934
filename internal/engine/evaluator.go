package engine

import "dtree-rule-compiler/internal/model"

// Evaluator classifies packets the way the installed pipeline would: each
// field value is looked up in its partition table, then the first
// forwarding rule whose bucket ranges all contain those buckets wins.
type Evaluator struct {
	Program *model.Program
}

func NewEvaluator(prog *model.Program) *Evaluator {
	return &Evaluator{Program: prog}
}

func (e *Evaluator) Evaluate(pkt model.Packet) model.EvaluationResult {
	buckets := make([]int, len(e.Program.Tables))
	for i, table := range e.Program.Tables {
		buckets[i] = Lookup(table, pkt[table.Field.Name])
		if buckets[i] == 0 {
			return model.EvaluationResult{Decision: model.DecisionNoMatch, Rule: -1, Buckets: buckets}
		}
	}

	for i := range e.Program.Rules {
		rule := &e.Program.Rules[i]
		if !matchesBuckets(rule, buckets) {
			continue
		}
		result := model.EvaluationResult{
			Decision: model.DecisionForward,
			Rule:     i,
			Line:     rule.Leaf.Line,
			Class:    rule.Leaf.Class,
			Action:   rule.Resolution.Action,
			Buckets:  buckets,
		}
		if rule.Resolution.Drop {
			result.Decision = model.DecisionDrop
		} else {
			result.Destination = rule.Resolution.Destination
		}
		return result
	}
	return model.EvaluationResult{Decision: model.DecisionNoMatch, Rule: -1, Buckets: buckets}
}

func matchesBuckets(rule *model.ForwardingRule, buckets []int) bool {
	for i, r := range rule.Ranges {
		if buckets[i] < r.Start || buckets[i] > r.End {
			return false
		}
	}
	return true
}

// MatchLeaf evaluates leaf conditions directly against raw packet values and
// returns the index of the first satisfied leaf, or -1.
func MatchLeaf(leaves []model.LeafRule, pkt model.Packet) int {
	for i, leaf := range leaves {
		if matchesTerms(leaf.Terms, pkt) {
			return i
		}
	}
	return -1
}

func matchesTerms(terms []model.Term, pkt model.Packet) bool {
	for _, t := range terms {
		v := pkt[t.Field]
		var ok bool
		switch t.Op {
		case model.OpLT:
			ok = v < t.Value
		case model.OpLE:
			ok = v <= t.Value
		case model.OpGT:
			ok = v > t.Value
		case model.OpGE:
			ok = v >= t.Value
		case model.OpEQ:
			ok = v == t.Value
		}
		if !ok {
			return false
		}
	}
	return true
}
