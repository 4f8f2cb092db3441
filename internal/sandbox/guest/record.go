package guest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/GriffinCanCode/sentinel/internal/analysis"
)

// ResultRecordSize is the size of the record analyze_file returns a
// pointer to. Layout, little-endian, packed:
//
//	0  f32 yara_like_score
//	4  f32 ml_like_score
//	8  u32 detected_pattern_count
//	12 u64 execution_time_us
//	20 u32 error_code
//	24 u32 padding
const ResultRecordSize = 28

// Guest error codes carried in the record.
const (
	ErrorCodeOK      uint32 = 0
	ErrorCodeTimeout uint32 = 2 // reserved: the guest ran out of its own slice
)

type resultRecord struct {
	YaraScore       float32
	MLScore         float32
	PatternCount    uint32
	ExecutionTimeUS uint64
	ErrorCode       uint32
}

func decodeRecord(b []byte) (resultRecord, error) {
	if len(b) < ResultRecordSize {
		return resultRecord{}, fmt.Errorf("%w: record is %d bytes", ErrBadResult, len(b))
	}
	le := binary.LittleEndian
	return resultRecord{
		YaraScore:       math.Float32frombits(le.Uint32(b[0:4])),
		MLScore:         math.Float32frombits(le.Uint32(b[4:8])),
		PatternCount:    le.Uint32(b[8:12]),
		ExecutionTimeUS: le.Uint64(b[12:20]),
		ErrorCode:       le.Uint32(b[20:24]),
	}, nil
}

// EncodeRecord is the inverse of the guest-side layout. Test modules use it
// to embed records in data segments.
func EncodeRecord(yara, ml float32, patterns uint32, execUS uint64, code uint32) []byte {
	b := make([]byte, ResultRecordSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], math.Float32bits(yara))
	le.PutUint32(b[4:8], math.Float32bits(ml))
	le.PutUint32(b[8:12], patterns)
	le.PutUint64(b[12:20], execUS)
	le.PutUint32(b[20:24], code)
	return b
}

func (r resultRecord) toResult() analysis.GuestResult {
	res := analysis.GuestResult{
		YaraLikeScore:        analysis.Clamp01(r.YaraScore),
		MLLikeScore:          analysis.Clamp01(r.MLScore),
		DetectedPatternCount: r.PatternCount,
		ExecutionTimeUS:      r.ExecutionTimeUS,
		TimedOut:             r.ErrorCode == ErrorCodeTimeout,
	}
	switch {
	case res.TimedOut:
		res.TriggeredRules = append(res.TriggeredRules, "guest analysis exhausted its time slice")
	case r.ErrorCode != ErrorCodeOK:
		res.TriggeredRules = append(res.TriggeredRules, fmt.Sprintf("guest reported error code %d", r.ErrorCode))
	}
	if res.YaraLikeScore > 0.5 {
		res.TriggeredRules = append(res.TriggeredRules,
			fmt.Sprintf("guest pattern heuristic (score: %.2f)", res.YaraLikeScore))
	}
	if res.MLLikeScore > 0.5 {
		res.TriggeredRules = append(res.TriggeredRules,
			fmt.Sprintf("guest feature heuristic (score: %.2f)", res.MLLikeScore))
	}
	return res
}
