package engine

import (
	"fmt"
	"time"
)

// DataGapError marks an observation the engine refused to process. The tick
// is skipped and the loop carries on.
type DataGapError struct {
	Timestamp time.Time
	Previous  time.Time
	Price     float64
	Reason    string // missing_timestamp, bad_price, out_of_order
}

func (e *DataGapError) Error() string {
	switch e.Reason {
	case "out_of_order":
		return fmt.Sprintf("data gap: tick at %s not after %s", e.Timestamp.Format(time.RFC3339Nano), e.Previous.Format(time.RFC3339Nano))
	case "bad_price":
		return fmt.Sprintf("data gap: price %.2f at %s", e.Price, e.Timestamp.Format(time.RFC3339Nano))
	}
	return "data gap: " + e.Reason
}
