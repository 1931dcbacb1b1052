package bridge

import (
	"github.com/google/uuid"

	"github.com/tidemark/mdbridge/internal/schema"
)

// InstrumentTopic carries instrument definitions published at connect time
// and on directory refresh.
const InstrumentTopic = "data.instruments"

// QuoteTopic returns the bus topic for an instrument's quote stream.
func QuoteTopic(id schema.InstrumentID) string {
	return "data.quotes." + string(id)
}

// TradeTopic returns the bus topic for an instrument's trade stream.
func TradeTopic(id schema.InstrumentID) string {
	return "data.trades." + string(id)
}

// BarTopic returns the bus topic for an instrument's bar streams.
func BarTopic(id schema.InstrumentID) string {
	return "data.bars." + string(id)
}

// RequestTopic returns the status topic for a historical request.
func RequestTopic(id uuid.UUID) string {
	return "requests." + id.String()
}

// DataTopic returns the bus topic carrying records of the given kind for an
// instrument.
func DataTopic(id schema.InstrumentID, kind schema.DataKind) string {
	switch kind.Name {
	case schema.KindTrade:
		return TradeTopic(id)
	case schema.KindBar:
		return BarTopic(id)
	default:
		return QuoteTopic(id)
	}
}
