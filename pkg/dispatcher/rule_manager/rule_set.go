package rule_manager

// RuleSet keeps rules by id while preserving insertion order, so the
// pipeline always sees rules in stable creation order.
type RuleSet struct {
	rules map[string]*Rule
	order []string
}

func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules: make(map[string]*Rule),
	}
}

func (rs *RuleSet) Set(id string, rule *Rule) {

	if _, ok := rs.rules[id]; !ok {
		rs.order = append(rs.order, id)
	}

	rs.rules[id] = rule
}

func (rs *RuleSet) Delete(id string) {

	if _, ok := rs.rules[id]; !ok {
		return
	}

	delete(rs.rules, id)

	for i, v := range rs.order {
		if v == id {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
}

func (rs *RuleSet) Get(id string) *Rule {

	if v, ok := rs.rules[id]; ok {
		return v
	}

	return nil
}

func (rs *RuleSet) List() []*Rule {

	rules := make([]*Rule, 0, len(rs.order))

	for _, id := range rs.order {
		rules = append(rules, rs.rules[id])
	}

	return rules
}
