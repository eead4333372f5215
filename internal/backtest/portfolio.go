package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"trade-engine/internal/trade"
)

// entryTrade 为一笔建仓记录，平仓时按先进先出顺序消耗。
type entryTrade struct {
	time     time.Time
	price    decimal.Decimal
	quantity decimal.Decimal
}

// Position 为单个标的的多头持仓。
type Position struct {
	Symbol     string
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal

	entries []entryTrade
}

// Quantity 返回持仓总量。
func (p *Position) Quantity() decimal.Decimal {
	var total decimal.Decimal
	for _, e := range p.entries {
		total = total.Add(e.quantity)
	}
	return total
}

// AvgEntry 返回加权平均建仓价。
func (p *Position) AvgEntry() decimal.Decimal {
	var notional, qty decimal.Decimal
	for _, e := range p.entries {
		notional = notional.Add(e.price.Mul(e.quantity))
		qty = qty.Add(e.quantity)
	}
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// Portfolio 维护现金、持仓与已平仓记录。
// 手续费在建仓与平仓两侧各收一次，计入平仓记录。
type Portfolio struct {
	cash      decimal.Decimal
	feeRate   decimal.Decimal
	positions map[string]*Position
	closed    []trade.ClosedTrade
}

// NewPortfolio 创建组合。
func NewPortfolio(initialCapital, feeRate decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:      initialCapital,
		feeRate:   feeRate,
		positions: make(map[string]*Position),
	}
}

// Cash 返回当前现金。
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// Position 返回指定标的的持仓，无持仓返回 nil。
func (p *Portfolio) Position(symbol string) *Position {
	return p.positions[symbol]
}

// OpenSymbols 返回当前有持仓的标的列表。
func (p *Portfolio) OpenSymbols() []string {
	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}
	return symbols
}

// ClosedTrades 返回全部已平仓记录。
func (p *Portfolio) ClosedTrades() []trade.ClosedTrade {
	return p.closed
}

// Buy 按给定价格建仓或加仓。现金不足时把数量压到可负担的上限，
// 完全买不起则忽略信号。返回实际成交数量。
func (p *Portfolio) Buy(symbol string, quantity, price decimal.Decimal, ts time.Time, stopLoss, takeProfit decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}

	unitCost := price.Mul(decimal.NewFromInt(1).Add(p.feeRate))
	affordable := p.cash.Div(unitCost)
	if quantity.GreaterThan(affordable) {
		quantity = affordable
	}
	if !quantity.IsPositive() {
		return decimal.Zero
	}

	cost := price.Mul(quantity)
	fee := cost.Mul(p.feeRate)
	p.cash = p.cash.Sub(cost).Sub(fee)

	pos := p.positions[symbol]
	if pos == nil {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	pos.entries = append(pos.entries, entryTrade{time: ts, price: price, quantity: quantity})
	if stopLoss.IsPositive() {
		pos.StopLoss = stopLoss
	}
	if takeProfit.IsPositive() {
		pos.TakeProfit = takeProfit
	}
	return quantity
}

// Sell 按先进先出平仓。数量超出持仓时按持仓全量处理，
// 每消耗一笔建仓记录就生成一条平仓记录。返回实际平仓数量。
func (p *Portfolio) Sell(symbol string, quantity, price decimal.Decimal, ts time.Time, reason trade.ExitReason) decimal.Decimal {
	pos := p.positions[symbol]
	if pos == nil || !quantity.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}

	remaining := quantity
	var closedQty decimal.Decimal

	for len(pos.entries) > 0 && remaining.IsPositive() {
		entry := &pos.entries[0]

		take := entry.quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}

		proceeds := price.Mul(take)
		exitFee := proceeds.Mul(p.feeRate)
		entryFee := entry.price.Mul(take).Mul(p.feeRate)
		p.cash = p.cash.Add(proceeds).Sub(exitFee)

		pnl := price.Sub(entry.price).Mul(take)
		pnlPct := 0.0
		if entry.price.IsPositive() {
			pnlPct, _ = price.Div(entry.price).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
		}

		p.closed = append(p.closed, trade.ClosedTrade{
			Symbol:     symbol,
			Side:       trade.PositionLong,
			EntryTime:  entry.time,
			ExitTime:   ts,
			EntryPrice: entry.price,
			ExitPrice:  price,
			Quantity:   take,
			ExitReason: reason,
			PnL:        pnl,
			PnLPct:     pnlPct,
			Fees:       entryFee.Add(exitFee),
		})

		entry.quantity = entry.quantity.Sub(take)
		remaining = remaining.Sub(take)
		closedQty = closedQty.Add(take)
		if !entry.quantity.IsPositive() {
			pos.entries = pos.entries[1:]
		}
	}

	if len(pos.entries) == 0 {
		delete(p.positions, symbol)
	}
	return closedQty
}

// CloseAll 以各标的最后已知价格强制平掉全部持仓。
func (p *Portfolio) CloseAll(prices map[string]decimal.Decimal, ts time.Time, reason trade.ExitReason) {
	for _, symbol := range p.OpenSymbols() {
		price, ok := prices[symbol]
		if !ok || !price.IsPositive() {
			continue
		}
		p.Sell(symbol, p.positions[symbol].Quantity(), price, ts, reason)
	}
}

// CheckExits 检查止损止盈并在触发时全量平仓。
func (p *Portfolio) CheckExits(symbol string, price decimal.Decimal, ts time.Time) {
	pos := p.positions[symbol]
	if pos == nil || !price.IsPositive() {
		return
	}

	if pos.StopLoss.IsPositive() && price.LessThanOrEqual(pos.StopLoss) {
		p.Sell(symbol, pos.Quantity(), price, ts, trade.ExitReasonStopLoss)
		return
	}
	if pos.TakeProfit.IsPositive() && price.GreaterThanOrEqual(pos.TakeProfit) {
		p.Sell(symbol, pos.Quantity(), price, ts, trade.ExitReasonTakeProfit)
	}
}

// Equity 返回按市价计算的组合净值。
func (p *Portfolio) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	equity := p.cash
	for symbol, pos := range p.positions {
		if price, ok := prices[symbol]; ok && price.IsPositive() {
			equity = equity.Add(pos.Quantity().Mul(price))
		}
	}
	return equity
}
