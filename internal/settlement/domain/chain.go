package settlement

import "github.com/shopspring/decimal"

// ConsolidateChain folds an original settlement and its corrections, oldest
// first, into the baseline that has been billed so far. Lines are merged with
// the correction matching rules and totals are summed. The baseline carries the
// identity, status and time series version of the last settlement in the chain,
// so a new correction computed against it links to that settlement.
func ConsolidateChain(chain []*Settlement) (*Settlement, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	for i, s := range chain {
		if s == nil {
			return nil, ErrNilSettlement
		}
		if i == 0 {
			continue
		}
		prevID, ok := s.PreviousSettlementID()
		if !ok || prevID != chain[i-1].ID() || s.MeteringPointID() != chain[0].MeteringPointID() {
			return nil, ErrBrokenChain
		}
	}

	first := chain[0]
	last := chain[len(chain)-1]
	lines := copyLines(first.lines)
	energy := first.totalEnergy
	for _, corr := range chain[1:] {
		energy = energy.Add(corr.totalEnergy)
		used := make([]bool, len(lines))
		for _, line := range corr.lines {
			idx := findCounterpart(line, lines, used)
			if idx < 0 {
				lines = append(lines, line)
				used = append(used, true)
				continue
			}
			used[idx] = true
			merged := lines[idx]
			merged.Amount = merged.Amount.Add(line.Amount)
			merged.Quantity = merged.Quantity.Add(line.Quantity)
			if !merged.Quantity.IsZero() {
				merged.UnitPrice = merged.Amount.Div(merged.Quantity.KWh()).Round(unitPricePlaces)
			}
			lines[idx] = merged
		}
	}

	kept := lines[:0]
	for _, l := range lines {
		if !l.Amount.Equal(decimal.Zero) {
			kept = append(kept, l)
		}
	}

	baseline := RestoreSettlement(last.Snapshot())
	baseline.period = first.period
	baseline.lines = kept
	baseline.totalEnergy = energy
	baseline.totalAmount = sumLines(kept, last.totalAmount.Currency)
	return baseline, nil
}
