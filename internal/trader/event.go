package trader

import (
	"github.com/shopspring/decimal"

	"mmhedge/internal/enum"
	"mmhedge/internal/venue"
)

type eventKind uint8

const (
	eventFill eventKind = iota + 1
	eventSnapshot
	eventPlaced
	eventCancelled
	eventMode
)

// event is what producers hand to the fill task. Only the fields of kind are set.
type event struct {
	kind   eventKind
	msg    venue.FillMessage
	orders []venue.LiveOrder
	ids    []string
	mode   enum.FillMode
	mark   decimal.Decimal
}
