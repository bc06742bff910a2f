package wallet

import "errors"

var (
	ErrTreatmentProcedureNotFound   = errors.New("treatment procedure not found")
	ErrReimbursementRequestNotFound = errors.New("reimbursement request not found")
)
