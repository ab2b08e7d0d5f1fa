package settlement

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	// ErrPrecondition is returned when an input violates a documented precondition.
	ErrPrecondition = errors.New("settlement: precondition violated")
	// ErrConflict is returned when an operation would repeat a one-time transition.
	ErrConflict = errors.New("settlement: conflict")
	// ErrInvalidOperation is returned when a transition is not legal from the current state.
	ErrInvalidOperation = errors.New("settlement: invalid operation")
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("settlement: not found")
)

var (
	ErrInvalidPeriod         = fmt.Errorf("%w: period end must be after start", ErrPrecondition)
	ErrZeroTimestamp         = fmt.Errorf("%w: zero timestamp", ErrPrecondition)
	ErrInvalidResolution     = fmt.Errorf("%w: unsupported resolution", ErrPrecondition)
	ErrEmptyMeteringPointID  = fmt.Errorf("%w: empty metering point id", ErrPrecondition)
	ErrEmptyChargeID         = fmt.Errorf("%w: empty charge id", ErrPrecondition)
	ErrEmptyPriceID          = fmt.Errorf("%w: empty price id", ErrPrecondition)
	ErrInvalidPriceType      = fmt.Errorf("%w: invalid price type", ErrPrecondition)
	ErrInvalidPriceCategory  = fmt.Errorf("%w: invalid price category", ErrPrecondition)
	ErrTaxRequiresTariff     = fmt.Errorf("%w: only tariffs can be taxes", ErrPrecondition)
	ErrFeePassThrough        = fmt.Errorf("%w: fees cannot be pass-through", ErrPrecondition)
	ErrInvalidVersion        = fmt.Errorf("%w: time series version must be positive", ErrPrecondition)
	ErrObservationOutside    = fmt.Errorf("%w: observation outside time series period", ErrPrecondition)
	ErrObservationOrder      = fmt.Errorf("%w: observations must be strictly ascending", ErrPrecondition)
	ErrInvalidQuality        = fmt.Errorf("%w: invalid observation quality", ErrPrecondition)
	ErrEmptyTimeSeries       = fmt.Errorf("%w: empty time series", ErrPrecondition)
	ErrMeteringPointMismatch = fmt.Errorf("%w: metering point mismatch", ErrPrecondition)
	ErrPeriodMismatch        = fmt.Errorf("%w: correction period does not overlap previous settlement", ErrPrecondition)
	ErrStaleTimeSeries       = fmt.Errorf("%w: correction requires a higher time series version", ErrPrecondition)
	ErrNilSettlement         = fmt.Errorf("%w: nil settlement", ErrPrecondition)
	ErrNilTimeSeries         = fmt.Errorf("%w: nil time series", ErrPrecondition)
	ErrInvalidPricingModel   = fmt.Errorf("%w: invalid pricing model", ErrPrecondition)
	ErrEmptyInvoiceReference = fmt.Errorf("%w: empty invoice reference", ErrPrecondition)
	ErrEmptyChain            = fmt.Errorf("%w: empty settlement chain", ErrPrecondition)
	ErrBrokenChain           = fmt.Errorf("%w: settlement chain is not linked", ErrPrecondition)

	ErrAlreadyInvoiced      = fmt.Errorf("%w: settlement already invoiced", ErrConflict)
	ErrAlreadyAdjusted      = fmt.Errorf("%w: settlement already adjusted", ErrConflict)
	ErrAlreadySuperseded    = fmt.Errorf("%w: time series already superseded", ErrConflict)
	ErrCorrectionInProgress = fmt.Errorf("%w: correction already exists for settlement", ErrConflict)
	ErrLockHeld             = fmt.Errorf("%w: resource is locked", ErrConflict)
	ErrDocumentNumbered     = fmt.Errorf("%w: document number already assigned", ErrConflict)

	ErrNotInvoiced        = fmt.Errorf("%w: settlement has not been invoiced", ErrInvalidOperation)
	ErrPreviousNotBilled  = fmt.Errorf("%w: previous settlement must be invoiced or migrated", ErrInvalidOperation)
	ErrInvoiceAfterAdjust = fmt.Errorf("%w: adjusted settlement cannot be invoiced", ErrInvalidOperation)
	ErrSealedTimeSeries   = fmt.Errorf("%w: superseded time series is immutable", ErrInvalidOperation)
)
