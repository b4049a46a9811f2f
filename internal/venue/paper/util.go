package paper

import (
	"github.com/shopspring/decimal"

	"mmhedge/internal/book"
)

func level(l [2]string) book.Level {
	return book.Level{
		Price: decimal.RequireFromString(l[0]),
		Size:  decimal.RequireFromString(l[1]),
	}
}
