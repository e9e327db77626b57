package ordersync

import "fmt"

// ErrorParams is the structured failure reason attached to a ledger entry and
// surfaced to the user exactly once. Code is the machine-readable reason,
// Message the human fallback when no localized string exists for the code.
type ErrorParams struct {
	Code    string
	Message string
}

func (e ErrorParams) String() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SomethingWentWrong is the generic failure attached when the true outcome is
// unknown, e.g. a placement timeout.
var SomethingWentWrong = ErrorParams{
	Code:    "SOMETHING_WENT_WRONG",
	Message: "something went wrong, the order may not have been placed",
}

// OperationResult is success-or-failure from the transaction layer. A failed
// result always carries error params.
type OperationResult struct {
	Err *ErrorParams
}

func Success() OperationResult {
	return OperationResult{}
}

func Failure(params ErrorParams) OperationResult {
	p := params
	return OperationResult{Err: &p}
}

func (r OperationResult) Failed() bool {
	return r.Err != nil
}

// ErrorParamsOrDefault returns the attached failure reason, falling back to
// the generic one for malformed failures.
func (r OperationResult) ErrorParamsOrDefault() ErrorParams {
	if r.Err != nil {
		return *r.Err
	}
	return SomethingWentWrong
}
