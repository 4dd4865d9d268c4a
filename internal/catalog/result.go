package catalog

// Result carries either one extracted value or the error for that entry.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successfully extracted value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps an entry-level failure.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Extraction is everything an Extractor reads from one page.
type Extraction[T any] struct {
	Items []Result[T]
	// Next is the absolute URL of the following page, "" on the last page.
	Next string
	// TotalPages is set by listing extractors that can see the page count.
	TotalPages int
}

// Tally folds per-entry outcomes without ever stopping on a failure.
type Tally struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Add merges another tally into t.
func (t *Tally) Add(o Tally) {
	t.Succeeded += o.Succeeded
	t.Failed += o.Failed
	t.Skipped += o.Skipped
}

// Clean reports whether nothing failed.
func (t Tally) Clean() bool {
	return t.Failed == 0
}

// Split separates a batch of results into values and errors, counting each
// failed entry as skipped on the tally.
func Split[T any](results []Result[T], tally *Tally) ([]T, []error) {
	values := make([]T, 0, len(results))
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			if tally != nil {
				tally.Skipped++
			}
			continue
		}
		values = append(values, r.Value)
	}
	return values, errs
}
