// Package extract turns fetched pages into raw race and article candidates. Embedded structured
// data is preferred; heuristics over the visible page only run when it yields nothing usable.
package extract

// Method names the extraction stage that produced a page's candidates.
type Method string

// Extraction methods.
const (
	MethodStructured Method = "structured"
	MethodHeuristic  Method = "heuristic"
	MethodNone       Method = "none"
)

// Outcome is the tagged result of extracting one page.
type Outcome[C any] struct {
	Method     Method
	Candidates []C
}

func structured[C any](candidates []C) Outcome[C] {
	return Outcome[C]{Method: MethodStructured, Candidates: candidates}
}

func heuristic[C any](candidates []C) Outcome[C] {
	if len(candidates) == 0 {
		return none[C]()
	}
	return Outcome[C]{Method: MethodHeuristic, Candidates: candidates}
}

func none[C any]() Outcome[C] {
	return Outcome[C]{Method: MethodNone}
}
