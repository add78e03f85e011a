package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// REVERSAL COORDINATOR
// =============================================================================
//
// Inverse per kind (all through the Engine, quantity negated):
//
//   Purchase     purchase(-q)            InvariantViolation if stock is gone
//   Expenditure  expend(-q)              InsufficientExpended
//                convert(-q) when drawn from an assignment; the line is restored
//   Assignment   assign(-q)              InsufficientAssigned, also when any
//                                        line was already converted
//   Transfer     transfer(-q)            DestinationAlreadyConsumed
//
// The compensating audit entry is appended before the document is deleted.

// ReverseTransaction undoes a recorded transaction and deletes its document.
func (s *Service) ReverseTransaction(ctx context.Context, id TransactionID, actor Actor) error {
	var kind Kind
	return s.run(ctx, "reverse", &kind, func(ctx context.Context, uow UnitOfWork, eng *Engine, audit *auditRecorder) error {
		t, err := uow.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		kind = t.Kind()

		if err := reverse(ctx, uow, eng, t); err != nil {
			return err
		}
		remarks := fmt.Sprintf("reversal of %s %s", t.Kind(), id)
		if err := audit.record(ctx, newAuditEntry(t, -1, actor, remarks, s.clock())); err != nil {
			return err
		}
		return uow.DeleteTransaction(ctx, id)
	})
}

func reverse(ctx context.Context, uow UnitOfWork, eng *Engine, t Transaction) error {
	switch v := t.(type) {
	case *Assignment:
		for _, item := range v.Items {
			if item.ExpendedQuantity > 0 {
				return shortfall(ErrInsufficientAssigned, Key{Site: v.Site, Asset: item.Asset},
					"assignment_line", item.Remaining(), item.Quantity)
			}
		}
	case *Expenditure:
		if v.FromAssignment() {
			if err := restoreAssignment(ctx, uow, v); err != nil {
				return err
			}
		}
	}
	return applyLines(ctx, eng, t, -1)
}

// restoreAssignment gives converted quantity back to the originating
// assignment's lines.
func restoreAssignment(ctx context.Context, uow UnitOfWork, exp *Expenditure) error {
	t, err := uow.GetTransaction(ctx, exp.AssignmentID)
	if err != nil {
		return fmt.Errorf("load assignment %s for expenditure %s: %w", exp.AssignmentID, exp.ID, err)
	}
	a, ok := t.(*Assignment)
	if !ok {
		return fmt.Errorf("%w: %s is a %s, not an assignment", ErrKindMismatch, exp.AssignmentID, t.Kind())
	}
	for _, line := range exp.Items {
		a.markConverted(line.Asset, -line.Quantity)
	}
	a.UpdatedAt = exp.UpdatedAt
	return uow.SaveTransaction(ctx, a)
}
