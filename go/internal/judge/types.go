package judge

// Procedures served by the judge.
const (
	EvaluateProcedure = "/judge.v1.VerdictService/Evaluate"
	LookupProcedure   = "/judge.v1.ProblemCatalog/Lookup"
)

// EvaluateRequest asks the judge to run code against a problem's tests.
type EvaluateRequest struct {
	ProblemID string `json:"problemId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// EvaluateResponse is the judge's verdict.
type EvaluateResponse struct {
	Verdict string       `json:"verdict"`
	Tests   []TestReport `json:"tests"`
}

// TestReport is the judge's view of one test case. Hidden tests are the ones
// not shown to players as samples.
type TestReport struct {
	Passed  bool   `json:"passed"`
	Hidden  bool   `json:"hidden"`
	Message string `json:"message,omitempty"`
}

type LookupRequest struct {
	ProblemID string `json:"problemId"`
}

type LookupResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
}
