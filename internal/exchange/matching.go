// Package exchange implements price-time priority matching for token
// order books.
package exchange

import (
	"errors"
	"fmt"
	"sort"

	"github.com/b0ase/kintsugi/internal/domain"
)

var (
	// ErrNotCrossing is returned when the bid is below the ask.
	ErrNotCrossing = errors.New("buy price is below sell price")
	// ErrSelfTrade is returned when both orders belong to one user.
	ErrSelfTrade = errors.New("cannot trade against own order")
)

// Fill is one match produced by the matcher. Buy and Sell are the order
// states after the fill was applied.
type Fill struct {
	Buy       domain.Order
	Sell      domain.Order
	Amount    int64
	PriceSats int64
}

// Trade returns the trade record for the fill, without id or timestamp.
func (f Fill) Trade() domain.Trade {
	return domain.Trade{
		TokenID:     f.Buy.TokenID,
		BuyOrderID:  f.Buy.OrderID,
		SellOrderID: f.Sell.OrderID,
		BuyerID:     f.Buy.UserID,
		SellerID:    f.Sell.UserID,
		PriceSats:   f.PriceSats,
		Amount:      f.Amount,
		TotalSats:   f.PriceSats * f.Amount,
	}
}

func live(o *domain.Order) bool {
	return (o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPartial) && o.Remaining() > 0
}

// Match runs price-time priority matching over the open orders of one token
// and returns at most max fills. Bids are walked highest price first, asks
// lowest price first, ties broken by creation time. Trades execute at the
// sell price. The input slice is not modified.
func Match(orders []domain.Order, max int) []Fill {
	if max <= 0 {
		return nil
	}
	var bids, asks []*domain.Order
	for i := range orders {
		o := orders[i]
		if !live(&o) {
			continue
		}
		switch o.Side {
		case domain.OrderSideBuy:
			bids = append(bids, &o)
		case domain.OrderSideSell:
			asks = append(asks, &o)
		}
	}
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].PriceSats != bids[j].PriceSats {
			return bids[i].PriceSats > bids[j].PriceSats
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	sort.SliceStable(asks, func(i, j int) bool {
		if asks[i].PriceSats != asks[j].PriceSats {
			return asks[i].PriceSats < asks[j].PriceSats
		}
		return asks[i].CreatedAt.Before(asks[j].CreatedAt)
	})

	var fills []Fill
	for _, bid := range bids {
		for _, ask := range asks {
			if len(fills) >= max {
				return fills
			}
			if ask.PriceSats > bid.PriceSats {
				break
			}
			if !live(ask) || ask.UserID == bid.UserID {
				continue
			}
			amount := min(bid.Remaining(), ask.Remaining())
			if err := Apply(bid, ask, amount); err != nil {
				continue
			}
			fills = append(fills, Fill{Buy: *bid, Sell: *ask, Amount: amount, PriceSats: ask.PriceSats})
			if !live(bid) {
				break
			}
		}
		if len(fills) >= max {
			break
		}
	}
	return fills
}

// Apply fills amount against both orders in place.
func Apply(buy, sell *domain.Order, amount int64) error {
	if buy.Side != domain.OrderSideBuy || sell.Side != domain.OrderSideSell {
		return fmt.Errorf("order sides must be buy and sell")
	}
	if buy.TokenID != sell.TokenID {
		return fmt.Errorf("orders are for different tokens")
	}
	if !live(buy) || !live(sell) {
		return fmt.Errorf("both orders must be open")
	}
	if buy.UserID == sell.UserID {
		return ErrSelfTrade
	}
	if buy.PriceSats < sell.PriceSats {
		return ErrNotCrossing
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if amount > buy.Remaining() || amount > sell.Remaining() {
		return fmt.Errorf("amount %d exceeds remaining quantity", amount)
	}
	buy.FilledAmount += amount
	sell.FilledAmount += amount
	settle(buy)
	settle(sell)
	return nil
}

func settle(o *domain.Order) {
	if o.Remaining() == 0 {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartial
	}
}

// BuildOrderBook aggregates the live orders of a token into price levels.
func BuildOrderBook(tokenID string, orders []domain.Order) domain.OrderBook {
	bids := map[int64]*domain.PriceLevel{}
	asks := map[int64]*domain.PriceLevel{}
	for i := range orders {
		o := &orders[i]
		if o.TokenID != tokenID || !live(o) {
			continue
		}
		levels := bids
		if o.Side == domain.OrderSideSell {
			levels = asks
		}
		lvl, ok := levels[o.PriceSats]
		if !ok {
			lvl = &domain.PriceLevel{PriceSats: o.PriceSats}
			levels[o.PriceSats] = lvl
		}
		lvl.Amount += o.Remaining()
		lvl.OrderCount++
	}

	book := domain.OrderBook{
		TokenID: tokenID,
		Bids:    flatten(bids, func(a, b int64) bool { return a > b }),
		Asks:    flatten(asks, func(a, b int64) bool { return a < b }),
	}
	if len(book.Bids) > 0 {
		book.BestBid = book.Bids[0].PriceSats
	}
	if len(book.Asks) > 0 {
		book.BestAsk = book.Asks[0].PriceSats
	}
	if book.BestBid > 0 && book.BestAsk > 0 {
		book.SpreadSat = book.BestAsk - book.BestBid
	}
	return book
}

func flatten(levels map[int64]*domain.PriceLevel, less func(a, b int64) bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].PriceSats, out[j].PriceSats) })
	return out
}
