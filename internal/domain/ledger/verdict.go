package ledger

// Signal is the output of one fraud rule for one transaction.
type Signal struct {
	Rule      string  `json:"rule"`
	Weight    float64 `json:"weight"`
	Triggered bool    `json:"triggered"`
	Detail    string  `json:"detail,omitempty"`
}

// Verdict is the advisory fraud score for a transaction. It is never persisted.
type Verdict struct {
	IsFraud    bool     `json:"is_fraud"`
	Confidence float64  `json:"confidence"`
	Signals    []Signal `json:"signals,omitempty"`
}

// Triggered returns the names of rules that fired.
func (v Verdict) Triggered() []string {
	var names []string
	for _, s := range v.Signals {
		if s.Triggered {
			names = append(names, s.Rule)
		}
	}
	return names
}
