package orchestration

// Recorder receives coordinator metrics. *metrics.OrchestrationMetrics
// implements it.
type Recorder interface {
	RecordSwap(version int64)
	RecordRejection(reason string)
	RecordStale()
	RecordPersist(outcome string)
	RecordRegistration(ok bool)
	RecordInit(ok bool)
	SetState(state int)
	SetActiveVersion(version int64)
}

// Persist outcomes.
const (
	PersistWritten = "written"
	PersistKept    = "kept"
	PersistFailed  = "failed"
)

// Rejection reasons.
const (
	RejectDecode            = "decode"
	RejectInvalid           = "invalid"
	RejectNameMismatch      = "name_mismatch"
	RejectUnknownDataSource = "unknown_data_source"
)

type nopRecorder struct{}

func (nopRecorder) RecordSwap(int64)        {}
func (nopRecorder) RecordRejection(string)  {}
func (nopRecorder) RecordStale()            {}
func (nopRecorder) RecordPersist(string)    {}
func (nopRecorder) RecordRegistration(bool) {}
func (nopRecorder) RecordInit(bool)         {}
func (nopRecorder) SetState(int)            {}
func (nopRecorder) SetActiveVersion(int64)  {}
