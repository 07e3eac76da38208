package audit

// Outcome is the terminal state of one request.
type Outcome int

const (
	// Failed is the zero value: a request that never reports otherwise failed.
	Failed Outcome = iota
	Succeeded
	// Insane marks a submission rejected by its sanity check.
	Insane
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Insane:
		return "failed for insanity"
	default:
		return "failed"
	}
}

// Record returns the terminal log message for o.
func (o Outcome) Record() string {
	return "Request " + o.String()
}

// Session ties a log to the single terminal record of a request.
type Session struct {
	log    *Log
	closed bool
}

// NewSession starts a session without an initiating record. From here on
// the caller must reach Close on every path.
func NewSession(log *Log) *Session {
	return &Session{log: log}
}

// Printf appends an intermediate record.
func (s *Session) Printf(format string, args ...any) error {
	return s.log.Printf(format, args...)
}

// Close writes exactly one terminal record for outcome and releases the
// log. Later calls do nothing.
func (s *Session) Close(outcome Outcome) error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.log.Resume(); err != nil {
		_ = s.log.Release()
		return err
	}
	werr := s.log.Printf("%s", outcome.Record())
	rerr := s.log.Release()
	if werr != nil {
		return werr
	}
	return rerr
}
