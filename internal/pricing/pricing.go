// Package pricing computes order totals in integer minor currency units.
// All arithmetic floors, so the same inputs always produce the same amounts
// on the order row and on the payment provider's line items.
package pricing

import "ms-conference-ticketing/internal/models"

const basisPointsScale = 10000

// Discount is a closed set of promo discount variants.
type Discount interface {
	amount(subtotal int64, e *Engine) int64
}

// NoDiscount is used when no promo applies or its type is unrecognised.
type NoDiscount struct{}

// FreeAll waives the whole subtotal.
type FreeAll struct{}

// MemberPrice takes the configured member ratio off the subtotal.
type MemberPrice struct{}

// FixedPrice makes the pre-tax price of the cart Amount.
type FixedPrice struct {
	Amount int64
}

func (NoDiscount) amount(int64, *Engine) int64 { return 0 }

func (FreeAll) amount(subtotal int64, _ *Engine) int64 { return subtotal }

func (MemberPrice) amount(subtotal int64, e *Engine) int64 {
	return subtotal * e.memberBasisPoints / basisPointsScale
}

func (d FixedPrice) amount(subtotal int64, _ *Engine) int64 {
	return max(0, subtotal-d.Amount)
}

// DiscountFor maps a stored promo code to its discount variant. A nil code
// means no discount.
func DiscountFor(p *models.PromoCode) Discount {
	if p == nil {
		return NoDiscount{}
	}
	switch p.DiscountType {
	case models.DiscountFreeAll:
		return FreeAll{}
	case models.DiscountMemberPrice:
		return MemberPrice{}
	case models.DiscountFixedPrice:
		return FixedPrice{Amount: p.DiscountAmount}
	default:
		return NoDiscount{}
	}
}

type Line struct {
	TicketTypeID string
	Name         string
	UnitPrice    int64
	Quantity     int
}

type Breakdown struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

// AllocatedLine is a cart line priced for the payment provider.
type AllocatedLine struct {
	Line
	DiscountedUnitPrice int64
}

// Allocation splits a breakdown into provider line items. TaxLine carries
// the tax plus any rounding remainder, so the lines always add up to Total.
type Allocation struct {
	Lines   []AllocatedLine
	TaxLine int64
}

type Engine struct {
	memberBasisPoints int64
	taxBasisPoints    int64
}

// NewEngine takes the member discount and tax rates in basis points
// (2000 = 20%).
func NewEngine(memberBasisPoints, taxBasisPoints int64) *Engine {
	return &Engine{memberBasisPoints: memberBasisPoints, taxBasisPoints: taxBasisPoints}
}

// Default is 20% member discount and 10% tax.
func Default() *Engine {
	return NewEngine(2000, 1000)
}

func Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPrice * int64(l.Quantity)
	}
	return subtotal
}

func (e *Engine) Calculate(lines []Line, d Discount) Breakdown {
	if d == nil {
		d = NoDiscount{}
	}
	subtotal := Subtotal(lines)
	discount := min(max(d.amount(subtotal, e), 0), subtotal)
	base := subtotal - discount
	tax := base * e.taxBasisPoints / basisPointsScale

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    base + tax,
	}
}

// DiscountedUnitPrice is floor(unitPrice * (1 - discount/subtotal)).
func DiscountedUnitPrice(unitPrice, subtotal, discount int64) int64 {
	if subtotal <= 0 {
		return unitPrice
	}
	return unitPrice * (subtotal - discount) / subtotal
}

func (e *Engine) Allocate(lines []Line, b Breakdown) Allocation {
	out := Allocation{Lines: make([]AllocatedLine, 0, len(lines))}
	var allocated int64
	for _, l := range lines {
		unit := DiscountedUnitPrice(l.UnitPrice, b.Subtotal, b.Discount)
		out.Lines = append(out.Lines, AllocatedLine{Line: l, DiscountedUnitPrice: unit})
		allocated += unit * int64(l.Quantity)
	}
	out.TaxLine = b.Total - allocated
	return out
}
