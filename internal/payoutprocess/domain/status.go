package domain

// TransferAggregate is the recount of a credit-transfer array. TotalTransfer
// is always TotalBooked + TotalReject: the number of lines the bank has
// resolved either way.
type TransferAggregate struct {
	TotalBooked   int `json:"total_booked"`
	TotalReject   int `json:"total_reject"`
	TotalTransfer int `json:"total_transfer"`
}

// Aggregate recounts the transfer array. It is deterministic and the sole
// source of truth for cascade decisions: correctness never depends on the
// order individual line updates arrived in.
func Aggregate(entries CreditTransferList) TransferAggregate {
	var agg TransferAggregate
	for _, entry := range entries {
		switch entry.Status {
		case TransferStatusBooked:
			agg.TotalBooked++
		case TransferStatusRejected:
			agg.TotalReject++
		}
	}
	agg.TotalTransfer = agg.TotalBooked + agg.TotalReject
	return agg
}

// Transition is the result of deriving a batch status: the new domain status
// and the journal event code to cascade onto the partner payout.
type Transition struct {
	Status Status
	Event  string
}

// DeriveExternal maps a raw NETS batch code onto a domain transition. The
// completed marker is refined against the aggregate; unknown codes yield
// ok=false and leave the derived status untouched.
func DeriveExternal(external string, agg TransferAggregate, total int) (Transition, bool) {
	// A fully resolved batch is terminal. Late rail-progress codes must not
	// walk the derived status backwards; only the completed marker still
	// refines the outcome.
	if total > 0 && agg.TotalTransfer == total && external != ExternalCompleted {
		return Transition{}, false
	}
	switch external {
	case ExternalAccepted:
		return Transition{Status: StatusAccepted, Event: EventNetsAccepted}, true
	case ExternalRejected:
		return Transition{Status: StatusError, Event: EventNetsRejected}, true
	case ExternalPartiallyAccepted:
		return Transition{Status: StatusPartiallyCompleted, Event: EventNetsPartiallyAccepted}, true
	case ExternalReceived:
		return Transition{Status: StatusValidated, Event: EventNetsReceived}, true
	case ExternalAsiceOK:
		return Transition{Status: StatusAsiceApproved, Event: EventAsiceApproved}, true
	case ExternalCompleted:
		if total > 0 && agg.TotalTransfer == total {
			return Transition{Status: Outcome(agg, total)}, true
		}
		return Transition{}, false
	default:
		return Transition{}, false
	}
}

// Outcome is the fine-grained settlement result once every line has
// resolved: completed iff all booked, failed iff all rejected, otherwise
// partially completed.
func Outcome(agg TransferAggregate, total int) Status {
	switch {
	case total > 0 && agg.TotalBooked == total:
		return StatusCompleted
	case total > 0 && agg.TotalReject == total:
		return StatusFailed
	default:
		return StatusPartiallyCompleted
	}
}

// Reconcile applies the count-change transition: it fires only when the
// fresh aggregate differs from the previously recorded one, which makes
// repeated callbacks with unchanged counts a no-op by construction.
//
// A fully resolved batch is completed (or failed when every line was
// rejected); a partially resolved batch moves to PART.
func Reconcile(previous, current TransferAggregate, total int) (Transition, bool) {
	if current.TotalTransfer == previous.TotalTransfer {
		return Transition{}, false
	}
	if total > 0 && current.TotalTransfer == total {
		if current.TotalReject == total {
			return Transition{Status: StatusFailed, Event: EventNetsRejected}, true
		}
		return Transition{Status: StatusCompleted}, true
	}
	if current.TotalTransfer > 0 {
		return Transition{Status: StatusPartiallyCompleted, Event: EventNetsPartiallyAccepted}, true
	}
	return Transition{}, false
}
