package workflow

// Outcome is the terminal classification of a round. The numeric values are
// the outcome codes sent over the wire.
type Outcome int

const (
	Success Outcome = iota
	NoLabelForSomeClasses
	ClassifierTrainingFailed
	OptimizationFailed
	UnknownError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case NoLabelForSomeClasses:
		return "NO_LABEL_FOR_SOME_CLASSES"
	case ClassifierTrainingFailed:
		return "CLASSIFIER_TRAINING_FAILED"
	case OptimizationFailed:
		return "OPTIMIZATION_FAILED"
	case UnknownError:
		return "UNKNOWN_ERROR"
	default:
		return "INVALID_OUTCOME"
	}
}

// Valid reports whether o is one of the five defined outcomes.
func (o Outcome) Valid() bool {
	return o >= Success && o <= UnknownError
}
